package duckdb

import (
	"bytes"
	"fmt"

	"github.com/parquet-go/parquet-go"
)

// EventRow is one analytics event in a local dataset. Dimension columns use
// the reporting field names so they can be selected directly.
type EventRow struct {
	EventDate                  string  `parquet:"event_date"`
	EventName                  string  `parquet:"eventName"`
	UserID                     string  `parquet:"user_id"`
	SessionID                  string  `parquet:"session_id"`
	NewUser                    bool    `parquet:"is_new_user"`
	EngagedSession             bool    `parquet:"engaged_session"`
	SessionDurationSeconds     float64 `parquet:"session_duration_seconds"`
	TransactionID              string  `parquet:"transaction_id"`
	PurchaseRevenue            float64 `parquet:"purchase_revenue"`
	ItemRevenue                float64 `parquet:"item_revenue"`
	ItemQuantity               int64   `parquet:"item_quantity"`
	Country                    string  `parquet:"country"`
	City                       string  `parquet:"city"`
	DeviceCategory             string  `parquet:"deviceCategory"`
	OperatingSystem            string  `parquet:"operatingSystem"`
	Browser                    string  `parquet:"browser"`
	SessionSource              string  `parquet:"sessionSource"`
	SessionMedium              string  `parquet:"sessionMedium"`
	SessionDefaultChannelGroup string  `parquet:"sessionDefaultChannelGroup"`
	SessionCampaignName        string  `parquet:"sessionCampaignName"`
	PagePath                   string  `parquet:"pagePath"`
	LandingPage                string  `parquet:"landingPage"`
	ItemName                   string  `parquet:"itemName"`
	ItemCategory               string  `parquet:"itemCategory"`
	ItemBrand                  string  `parquet:"itemBrand"`
}

const eventDay = `CAST(event_date AS DATE)`

// dimensionExprs covers dimensions derived from the event date. Every other
// dimension is a column of the same name.
var dimensionExprs = map[string]string{
	"date":          `strftime(` + eventDay + `, '%Y%m%d')`,
	"month":         `strftime(` + eventDay + `, '%m')`,
	"year":          `strftime(` + eventDay + `, '%Y')`,
	"dayOfWeekName": `dayname(` + eventDay + `)`,
}

const (
	sessionsExpr        = `COUNT(DISTINCT session_id)`
	engagedSessionsExpr = `COUNT(DISTINCT CASE WHEN engaged_session THEN session_id END)`
)

var metricExprs = map[string]string{
	"activeUsers":            `COUNT(DISTINCT CASE WHEN engaged_session THEN user_id END)`,
	"newUsers":               `COUNT(DISTINCT CASE WHEN is_new_user THEN user_id END)`,
	"totalUsers":             `COUNT(DISTINCT user_id)`,
	"sessions":               sessionsExpr,
	"engagedSessions":        engagedSessionsExpr,
	"engagementRate":         engagedSessionsExpr + ` / NULLIF(` + sessionsExpr + `, 0)`,
	"bounceRate":             `1 - ` + engagedSessionsExpr + ` / NULLIF(` + sessionsExpr + `, 0)`,
	"averageSessionDuration": `SUM(session_duration_seconds) / NULLIF(` + sessionsExpr + `, 0)`,
	"screenPageViews":        `COUNT(*) FILTER (WHERE "eventName" = 'page_view')`,
	"eventCount":             `COUNT(*)`,
	"conversions":            `COUNT(*) FILTER (WHERE "eventName" IN ('purchase', 'sign_up', 'generate_lead'))`,
	"transactions":           `COUNT(DISTINCT NULLIF(transaction_id, ''))`,
	"ecommercePurchases":     `COUNT(*) FILTER (WHERE "eventName" = 'purchase')`,
	"purchaseRevenue":        `SUM(purchase_revenue)`,
	"totalRevenue":           `SUM(purchase_revenue)`,
	"itemRevenue":            `SUM(item_revenue)`,
	"itemsPurchased":         `SUM(item_quantity) FILTER (WHERE "eventName" = 'purchase')`,
	"itemsViewed":            `SUM(item_quantity) FILTER (WHERE "eventName" = 'view_item')`,
	"addToCarts":             `SUM(item_quantity) FILTER (WHERE "eventName" = 'add_to_cart')`,
}

// EncodeEvents writes rows as a parquet dataset.
func EncodeEvents(rows []EventRow) ([]byte, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("events are required")
	}
	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[EventRow](buf)
	if _, err := writer.Write(rows); err != nil {
		return nil, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}
