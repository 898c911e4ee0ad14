package telegram

import (
	"fmt"
	"strings"

	"github.com/and161185/listing-scout/internal/model"
)

// ButtonText is the caption of the inline link button under every message.
const ButtonText = "Ссылка"

var currencySymbols = map[string]string{
	"AUD": "$", "BGN": "лв", "BRL": "R$", "CAD": "$", "CNY": "¥", "CZK": "Kč",
	"DKK": "kr", "EUR": "€", "GBP": "£", "HKD": "$", "HUF": "Ft", "IDR": "Rp",
	"ILS": "₪", "INR": "₹", "ISK": "kr", "JPY": "¥", "KRW": "₩", "MXN": "$",
	"MYR": "RM", "NOK": "kr", "NZD": "$", "PHP": "₱", "PLN": "zł", "RON": "lei",
	"SEK": "kr", "SGD": "$", "THB": "฿", "TRY": "₺", "UAH": "₴", "USD": "$",
	"ZAR": "R",
}

var mdEscaper = strings.NewReplacer(
	`\`, `\\`, "_", `\_`, "*", `\*`, "[", `\[`, "]", `\]`, "(", `\(`, ")", `\)`,
	"~", `\~`, "`", "\\`", ">", `\>`, "#", `\#`, "+", `\+`, "-", `\-`, "=", `\=`,
	"|", `\|`, "{", `\{`, "}", `\}`, ".", `\.`, "!", `\!`,
)

// Escape quotes MarkdownV2 special characters.
func Escape(s string) string { return mdEscaper.Replace(s) }

// FormatListing renders a listing into the MarkdownV2 delivery message.
// categories is the category path of the listing, root first.
func FormatListing(l *model.Listing, categories []model.Category) string {
	var lines []string
	add := func(s string) { lines = append(lines, s) }

	add(fmt.Sprintf(`__*[• Объявление \#%d](%s)*__`, l.ID, l.URL))
	add("• *" + Escape(l.Title) + "*")
	add(priceLine(l))
	if len(categories) > 0 {
		add("• *" + categoryLine(categories) + "*")
	}
	add(locationLine(l))
	if l.User.CompanyName != "" {
		add("• Компания: " + Escape(l.User.CompanyName))
	}
	if l.PartnerCode != "" {
		add("• Код партнера: " + Escape(l.PartnerCode))
	}
	if l.ShopSubdomain != "" {
		add("• Субдомен магазина: " + Escape(l.ShopSubdomain))
	}
	description := strings.ReplaceAll(l.Description, "<br />", "")
	if len(description) < 1024 {
		add("• Описание:\n_" + Escape(description) + "_")
	} else {
		add("• Описание: _Слишком длинное_")
	}
	if params := paramsLine(l); params != "" {
		add("")
		add(params)
		add("")
	}
	add("• Контакт: " + Escape(l.User.Name))
	about := strings.ReplaceAll(l.User.About, "<br />", "")
	switch {
	case about == "":
		add("• Про контакт: _Нет информации_")
	case len(about) < 512:
		add("• Про контакт:\n_" + Escape(about) + "_")
	default:
		add("• Про контакт: _Слишком много текста_")
	}
	if len(l.Phones) == 0 {
		add("• Номер телефона: _Отсутствует_")
	} else {
		add("• Номер телефона:")
		for i, p := range l.Phones {
			add(fmt.Sprintf(`%d\. *\+%s*`, i+1, Escape(p.Number)))
		}
	}
	add("")
	if l.User.Created != nil {
		add("Дата регистрации: " + Escape(l.User.Created.Format("2006-01-02 15:04:05")))
	} else {
		add("Дата регистрации: _Не указана_")
	}
	if l.User.LastSeen != nil {
		add("Последний раз в сети: " + Escape(l.User.LastSeen.Format("2006-01-02 15:04:05")))
	} else {
		add("Последний раз в сети: _Не указана_")
	}
	add("Дата добавления: _" + Escape(l.CreatedTime.Format("2006-01-02 15:04:05")) + "_")
	add("Дата обновления: _" + Escape(l.LastRefreshTime.Format("2006-01-02 15:04:05")) + "_")
	add("Активно до: _" + Escape(l.ValidToTime.Format("2006-01-02 15:04:05")) + "_")

	return strings.Join(lines, "\n")
}

func priceLine(l *model.Listing) string {
	if l.Price == nil {
		return "• _Цена не указана_"
	}
	var b strings.Builder
	if l.Price.ConvertedCurrency != "" {
		symbol, ok := currencySymbols[l.Price.Currency]
		if !ok {
			symbol = l.Price.Currency
		}
		b.WriteString(Escape(groupDigits(l.Price.Value) + " " + symbol))
		b.WriteString(Escape(" (" + l.Price.Label + ")"))
	} else {
		b.WriteString(Escape(l.Price.Label))
	}
	if l.HasNegotiation {
		b.WriteString(" _договорная_")
	}
	return "• *" + b.String() + "*"
}

func categoryLine(categories []model.Category) string {
	parts := make([]string, 0, len(categories))
	codes := make([]string, 0, len(categories))
	for _, c := range categories {
		codes = append(codes, c.Code)
		url := "https://www.olx.ua/" + strings.Join(codes, "/")
		parts = append(parts, fmt.Sprintf("[%s](%s)", Escape(c.Name), url))
	}
	return strings.Join(parts, Escape(" > "))
}

func locationLine(l *model.Listing) string {
	var name string
	if l.District != nil {
		name = fmt.Sprintf("%s, %s - %s", l.City.Name, l.District.Name, l.Region.Name)
	} else {
		name = fmt.Sprintf("%s - %s", l.City.Name, l.Region.Name)
	}
	mapURL := fmt.Sprintf("https://maps.google.com/maps?z=%d&t=m&q=loc:%.6f+%.6f",
		l.MapZoom, l.MapLatitude, l.MapLongitude)
	return fmt.Sprintf("• *[%s](%s)*", Escape(name), mapURL)
}

func paramsLine(l *model.Listing) string {
	var parts []string
	if l.IsBusiness {
		parts = append(parts, "*Бізнес*")
	}
	for _, p := range l.Params {
		if p.Type == "checkbox" {
			parts = append(parts, "*"+Escape(p.Label)+"*")
		} else {
			parts = append(parts, "*"+Escape(p.Name)+":* _"+Escape(p.Label)+"_")
		}
	}
	return strings.Join(parts, " · ")
}

// groupDigits formats a value with space-separated thousands and no fraction.
func groupDigits(v float64) string {
	s := fmt.Sprintf("%.0f", v)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}
