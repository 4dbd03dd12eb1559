package report

import "slices"

// Dimensions and Metrics are the analytics field names offered to the
// translator and accepted by the offline backend.
var Dimensions = []string{
	"date",
	"month",
	"year",
	"dayOfWeekName",
	"country",
	"city",
	"deviceCategory",
	"operatingSystem",
	"browser",
	"sessionSource",
	"sessionMedium",
	"sessionDefaultChannelGroup",
	"sessionCampaignName",
	"pagePath",
	"landingPage",
	"eventName",
	"itemName",
	"itemCategory",
	"itemBrand",
}

var Metrics = []string{
	"activeUsers",
	"newUsers",
	"totalUsers",
	"sessions",
	"engagedSessions",
	"engagementRate",
	"bounceRate",
	"averageSessionDuration",
	"screenPageViews",
	"eventCount",
	"conversions",
	"transactions",
	"ecommercePurchases",
	"purchaseRevenue",
	"totalRevenue",
	"itemRevenue",
	"itemsPurchased",
	"itemsViewed",
	"addToCarts",
}

// Synonym maps a user phrase to the field names it usually means.
type Synonym struct {
	Phrases []string
	Fields  []string
}

var Synonyms = []Synonym{
	{Phrases: []string{"revenue", "ciro", "sales amount", "gelir"}, Fields: []string{"purchaseRevenue", "totalRevenue"}},
	{Phrases: []string{"visitors", "users", "ziyaretçi", "kullanıcı"}, Fields: []string{"activeUsers"}},
	{Phrases: []string{"sessions", "oturum"}, Fields: []string{"sessions"}},
	{Phrases: []string{"item sales", "units sold", "ürün satışı", "satılan ürün"}, Fields: []string{"itemsPurchased"}},
	{Phrases: []string{"device", "cihaz"}, Fields: []string{"deviceCategory"}},
	{Phrases: []string{"city", "location", "şehir", "lokasyon"}, Fields: []string{"city"}},
	{Phrases: []string{"orders", "purchases", "sipariş"}, Fields: []string{"transactions", "ecommercePurchases"}},
	{Phrases: []string{"traffic source", "channel", "kanal"}, Fields: []string{"sessionSource", "sessionDefaultChannelGroup"}},
}

func IsDimension(name string) bool { return slices.Contains(Dimensions, name) }

func IsMetric(name string) bool { return slices.Contains(Metrics, name) }
