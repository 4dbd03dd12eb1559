package seed

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/whisperer/whisperer/internal/dates"
	"github.com/whisperer/whisperer/internal/report/duckdb"
)

type location struct {
	country string
	city    string
}

type trafficSource struct {
	source   string
	medium   string
	channel  string
	campaign string
}

type device struct {
	category string
	os       string
	browser  string
}

type item struct {
	name     string
	category string
	brand    string
	price    float64
}

var (
	locations = []location{
		{"Turkey", "Istanbul"}, {"Turkey", "Ankara"}, {"Turkey", "Izmir"},
		{"Germany", "Berlin"}, {"United States", "New York"}, {"United Kingdom", "London"},
	}
	sources = []trafficSource{
		{"google", "organic", "Organic Search", "(organic)"},
		{"google", "cpc", "Paid Search", "winter_sale"},
		{"instagram", "social", "Organic Social", "(not set)"},
		{"newsletter", "email", "Email", "weekly_digest"},
		{"(direct)", "(none)", "Direct", "(direct)"},
	}
	devices = []device{
		{"mobile", "Android", "Chrome"},
		{"mobile", "iOS", "Safari"},
		{"desktop", "Windows", "Chrome"},
		{"desktop", "Macintosh", "Safari"},
		{"tablet", "iOS", "Safari"},
	}
	catalog = []item{
		{"Wool Scarf", "Accessories", "Northwind", 349.90},
		{"Leather Boots", "Shoes", "Northwind", 2199.00},
		{"Rain Jacket", "Outerwear", "Contoso", 1499.50},
		{"Cotton Tee", "Tops", "Contoso", 249.00},
		{"Denim Jeans", "Bottoms", "Fabrikam", 899.00},
	}
	pages = []string{"/", "/new-arrivals", "/sale", "/category/shoes", "/category/outerwear", "/blog/winter-guide"}
)

// Generator produces GA-like events. The same seed always yields the same
// events for the same days.
type Generator struct {
	rnd             *rand.Rand
	userCardinality int
	seenUsers       map[string]struct{}
	sequence        int64
}

func NewGenerator(seed int64, userCardinality int) *Generator {
	return &Generator{
		rnd:             rand.New(rand.NewSource(seed)),
		userCardinality: userCardinality,
		seenUsers:       make(map[string]struct{}),
	}
}

// Day generates the events of sessions sessions on day.
func (g *Generator) Day(day time.Time, sessions int) []duckdb.EventRow {
	date := dates.Format(day)
	var rows []duckdb.EventRow
	for i := 0; i < sessions; i++ {
		rows = append(rows, g.session(date)...)
	}
	return rows
}

func (g *Generator) session(date string) []duckdb.EventRow {
	g.sequence++
	userID := fmt.Sprintf("user-%05d", g.rnd.Intn(g.userCardinality)+1)
	_, returning := g.seenUsers[userID]
	g.seenUsers[userID] = struct{}{}

	loc := pickOne(g.rnd, locations)
	src := pickOne(g.rnd, sources)
	dev := pickOne(g.rnd, devices)
	landing := pickOne(g.rnd, pages)
	pageViews := 1 + g.rnd.Intn(6)
	duration := round2(float64(pageViews)*(5+g.rnd.Float64()*55))

	base := duckdb.EventRow{
		EventDate:                  date,
		UserID:                     userID,
		SessionID:                  fmt.Sprintf("sess-%08d", g.sequence),
		NewUser:                    !returning,
		EngagedSession:             pageViews >= 2 || duration >= 10,
		Country:                    loc.country,
		City:                       loc.city,
		DeviceCategory:             dev.category,
		OperatingSystem:            dev.os,
		Browser:                    dev.browser,
		SessionSource:              src.source,
		SessionMedium:              src.medium,
		SessionDefaultChannelGroup: src.channel,
		SessionCampaignName:        src.campaign,
		LandingPage:                landing,
	}

	rows := make([]duckdb.EventRow, 0, pageViews+3)
	first := base
	first.EventName = "session_start"
	first.PagePath = landing
	first.SessionDurationSeconds = duration
	rows = append(rows, first)

	for i := 0; i < pageViews; i++ {
		view := base
		view.EventName = "page_view"
		view.PagePath = landing
		if i > 0 {
			view.PagePath = pickOne(g.rnd, pages)
		}
		rows = append(rows, view)
	}

	if g.rnd.Intn(100) >= 45 {
		return rows
	}
	product := pickOne(g.rnd, catalog)
	viewed := withItem(base, "view_item", product, 1)
	rows = append(rows, viewed)

	if g.rnd.Intn(100) >= 40 {
		return rows
	}
	quantity := int64(1 + g.rnd.Intn(3))
	rows = append(rows, withItem(base, "add_to_cart", product, quantity))

	if g.rnd.Intn(100) >= 45 {
		return rows
	}
	purchase := withItem(base, "purchase", product, quantity)
	purchase.TransactionID = fmt.Sprintf("T%08d", g.sequence)
	purchase.ItemRevenue = round2(product.price * float64(quantity))
	purchase.PurchaseRevenue = purchase.ItemRevenue
	return append(rows, purchase)
}

func withItem(base duckdb.EventRow, event string, product item, quantity int64) duckdb.EventRow {
	row := base
	row.EventName = event
	row.PagePath = "/product/" + product.name
	row.ItemName = product.name
	row.ItemCategory = product.category
	row.ItemBrand = product.brand
	row.ItemQuantity = quantity
	return row
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}

func pickOne[T any](r *rand.Rand, values []T) T {
	return values[r.Intn(len(values))]
}
