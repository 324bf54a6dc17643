package nlu

import "mizon/pkg/phrase"

type target struct {
	route string
	en    string
	ar    string
	keys  []string
}

// Ordered: the first target whose key appears wins.
var targets = []target{
	{route: "/health", en: "Health", ar: "الصحة", keys: []string{"health", "medical", "صحة", "الصحة"}},
	{route: "/banking", en: "Banking", ar: "البنك", keys: []string{"bank", "بنك", "مصرف"}},
	{route: "/family", en: "Family Notes", ar: "ملاحظات العائلة", keys: []string{"family", "notes", "عائلة", "ملاحظات"}},
	{route: "/bills", en: "Bills", ar: "الفواتير", keys: []string{"bill", "فاتورة", "فواتير"}},
}

type grocery struct {
	en   string
	ar   string
	keys []string
}

var groceries = []grocery{
	{en: "eggs", ar: "بيض", keys: []string{"egg", "بيض"}},
	{en: "bread", ar: "خبز", keys: []string{"bread", "خبز"}},
	{en: "milk", ar: "حليب", keys: []string{"milk", "حليب"}},
	{en: "rice", ar: "أرز", keys: []string{"rice", "أرز", "رز"}},
	{en: "chicken", ar: "دجاج", keys: []string{"chicken", "دجاج"}},
	{en: "tomatoes", ar: "طماطم", keys: []string{"tomato", "طماطم", "بندورة"}},
	{en: "water", ar: "ماء", keys: []string{"water", "ماء", "مياه"}},
	{en: "sugar", ar: "سكر", keys: []string{"sugar", "سكر"}},
	{en: "oil", ar: "زيت", keys: []string{"oil", "زيت"}},
	{en: "onions", ar: "بصل", keys: []string{"onion", "بصل"}},
	{en: "meat", ar: "لحم", keys: []string{"meat", "لحم"}},
	{en: "fish", ar: "سمك", keys: []string{"fish", "سمك"}},
	{en: "cheese", ar: "جبن", keys: []string{"cheese", "جبن"}},
	{en: "butter", ar: "زبدة", keys: []string{"butter", "زبدة"}},
	{en: "yogurt", ar: "زبادي", keys: []string{"yogurt", "yoghurt", "زبادي"}},
}

// markers for the assistant's reply
var (
	replyOpen     = []string{"opening", "navigating", "taking you", "opened", "فتح", "الانتقال"}
	replyAdded    = []string{"added", "adding", "اضفت", "تمت اضافة", "اضفنا", "سأضيف"}
	replyBill     = []string{"processing your bill", "process your bill", "معالجة الفاتورة"}
	replyReminder = []string{"remind you", "reminder", "سأذكرك", "تذكير"}
)

// markers for the user's own command
var (
	commandOpen     = []string{"open", "go to", "take me", "show me", "افتح", "اذهب", "خذني", "اعرض"}
	commandAdded    = []string{"add", "put", "buy", "اضف", "اشتر", "ضع"}
	commandBill     = []string{"pay my bill", "process my bill", "process the bill", "ادفع الفاتورة", "عالج الفاتورة"}
	commandReminder = []string{"remind me", "reminder", "ذكرني", "تذكير"}
)

type messages struct {
	opened   string
	added    string
	bill     string
	reminder string
	listSep  string
	apology  string
}

var locale = map[phrase.Language]messages{
	phrase.English: {
		opened:   "Opened %s",
		added:    "Added %s to your list",
		bill:     "Processing your bill",
		reminder: "Reminder set",
		listSep:  ", ",
		apology:  "Sorry, I couldn't get an answer right now. Please try again.",
	},
	phrase.Arabic: {
		opened:   "تم فتح %s",
		added:    "تمت إضافة %s إلى قائمتك",
		bill:     "جاري معالجة الفاتورة",
		reminder: "تم ضبط التذكير",
		listSep:  "، ",
		apology:  "عذرًا، لم أتمكن من الحصول على إجابة الآن. حاول مرة أخرى.",
	},
}

func messagesFor(lang phrase.Language) messages {
	if m, ok := locale[lang]; ok {
		return m
	}
	return locale[phrase.English]
}

// Apology is spoken when the language model fails.
func Apology(lang phrase.Language) string { return messagesFor(lang).apology }
