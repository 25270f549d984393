package bookkeeper_test

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"testing"
	"time"

	"github.com/DataONEorg/bookkeeper"
	"github.com/DataONEorg/bookkeeper/order"
	"github.com/DataONEorg/bookkeeper/product"
	"github.com/DataONEorg/bookkeeper/store/memory"
	"github.com/DataONEorg/bookkeeper/types"
)

// TestDocumentationExamples verifies that the package documentation examples work.
func TestDocumentationExamples(t *testing.T) {
	t.Run("QuickStartExample", func(t *testing.T) {
		// Memory store for demo, use PostgreSQL in production
		store := memory.New()

		bk := bookkeeper.New(store,
			bookkeeper.WithLogger(slog.Default()),
			bookkeeper.WithProductCacheTTL(30*time.Second),
		)

		ctx := context.Background()
		if err := bk.Start(ctx); err != nil {
			t.Fatal(err)
		}
		defer bk.Stop()

		p := &product.Product{
			ID:       1000,
			Active:   true,
			Name:     "Individual",
			Amount:   9000,
			Currency: "USD",
			Interval: product.IntervalYear,
		}
		p.SetFeatures([]product.Feature{
			{
				Name:  "custom_portal",
				Label: "Branded Portals",
				Quota: &product.QuotaTemplate{QuotaType: "portal", SoftLimit: 1, HardLimit: 1, Unit: "portal"},
			},
		})
		if err := bk.CreateProduct(ctx, p); err != nil {
			t.Fatal(err)
		}

		subject := "https://orcid.org/0000-0002-1825-0097"
		if _, err := bk.ProvisionQuotas(ctx, subject, p.ID); err != nil {
			t.Fatal(err)
		}

		parent := p.ID
		o := &order.Order{
			ID:       7,
			Amount:   9000,
			Currency: "USD",
			Subject:  subject,
			Items: []order.Item{
				{Amount: 9000, Parent: &parent, Quantity: 1, Type: order.ItemSKU},
			},
		}
		if err := bk.CreateOrder(ctx, o); err != nil {
			t.Fatal(err)
		}

		webhookBody := []byte(`{
			"account_id": "1001",
			"timestamp": "1583020800",
			"count": "1",
			"hash": "6d1e6b0c",
			"responses": [{
				"transaction_id": "txn-7",
				"transaction_approved": "true",
				"transaction_amount": "90.00",
				"request_amount": "90.00",
				"orderid": "7"
			}]
		}`)

		res, err := bk.Reconcile(ctx, webhookBody)
		switch {
		case errors.Is(err, bookkeeper.ErrMalformedPaymentPayload):
			t.Fatal("payload rejected")
		case err != nil:
			t.Fatal(err)
		case res.PartialSuccess():
			t.Fatalf("unexpected quota failures: %+v", res.QuotaFailures)
		}

		if res.Status != order.StatusPaid {
			t.Fatalf("expected paid, got %s", res.Status)
		}

		q, err := bk.GetQuotaFor(ctx, subject, "custom_portal")
		if err != nil {
			t.Fatal(err)
		}
		log.Printf("quota %s: %d/%d (%s)", q.Feature, q.Usage, q.HardLimit, q.State())
		if q.Usage != 1 {
			t.Fatalf("expected usage 1, got %d", q.Usage)
		}
	})

	t.Run("QuotaLedgerExample", func(t *testing.T) {
		bk := bookkeeper.New(memory.New())
		ctx := context.Background()
		if err := bk.Start(ctx); err != nil {
			t.Fatal(err)
		}
		defer bk.Stop()

		err := bk.CreateQuota(ctx, &bookkeeper.Quota{
			ID:        1,
			Feature:   "custom_portal",
			SoftLimit: 1,
			HardLimit: 2,
			Subject:   "CN=Jane,O=Example",
		})
		if err != nil {
			t.Fatal(err)
		}

		for i := range 3 {
			res, err := bk.CheckAndReserve(ctx, "CN=Jane,O=Example", "custom_portal", 1)
			var hle *bookkeeper.HardLimitError
			switch {
			case errors.As(err, &hle):
				if i != 2 {
					t.Fatalf("hard limit hit early at reservation %d", i)
				}
				log.Printf("rejected: usage %d + %d > %d", hle.Usage, hle.Delta, hle.HardLimit)
			case err != nil:
				t.Fatal(err)
			default:
				log.Printf("reserved: usage %d (%s)", res.Usage, res.State)
			}
		}
	})

	t.Run("MoneyExample", func(t *testing.T) {
		m, err := types.ParseMoney("500.00", "usd")
		if err != nil {
			t.Fatal(err)
		}
		if !m.Equal(types.New(50000, "usd")) {
			t.Fatalf("expected 50000 minor units, got %d", m.Amount)
		}
		log.Printf("parsed %d %s", m.Amount, m.Currency)
	})
}
