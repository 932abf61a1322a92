package settlement_test

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/jfcalderon/rodarpay/internal/core/datamodel/invoice"
	"github.com/jfcalderon/rodarpay/internal/core/datamodel/payment"
	"github.com/jfcalderon/rodarpay/internal/core/events"
	"github.com/jfcalderon/rodarpay/internal/gateway/wompi"
	"github.com/jfcalderon/rodarpay/internal/settlement"
	"github.com/jfcalderon/rodarpay/internal/tenant"
	"github.com/jfcalderon/rodarpay/internal/transport"
)

// Mock tenant resolver for testing
type mockConfigResolver struct {
	configs map[string]*tenant.Config
	err     error
}

func (m *mockConfigResolver) Resolve(ctx context.Context, tenantID string) (*tenant.Config, error) {
	if m.err != nil {
		return nil, m.err
	}
	cfg, exists := m.configs[tenantID]
	if !exists {
		return nil, fmt.Errorf("tenant %s not found", tenantID)
	}
	return cfg, nil
}

var _ = Describe("WebhookHandler", func() {
	const tenantSecret = "tenant_events_secret"
	const defaultSecret = "platform_default_secret"

	var (
		handler    *settlement.WebhookHandler
		repo       *mockPaymentRepository
		invoices   *mockInvoiceStore
		eventRepo  *mockWebhookEventRepository
		resolver   *mockConfigResolver
		testServer *httptest.Server
	)

	webhookBody := func(reference, status, secret string, timestamp int64) []byte {
		var concat bytes.Buffer
		concat.WriteString("txn-01")
		concat.WriteString(status)
		concat.WriteString("500000")
		concat.WriteString(fmt.Sprintf("%d", timestamp))
		concat.WriteString(secret)
		sum := sha256.Sum256(concat.Bytes())

		body := map[string]interface{}{
			"event": "transaction.updated",
			"data": map[string]interface{}{
				"transaction": map[string]interface{}{
					"id":              "txn-01",
					"reference":       reference,
					"status":          status,
					"amount_in_cents": 500000,
				},
			},
			"sent_at":   "2026-02-10T12:00:00.000Z",
			"timestamp": timestamp,
			"signature": map[string]interface{}{
				"checksum": hex.EncodeToString(sum[:]),
				"properties": []string{
					"transaction.id",
					"transaction.status",
					"transaction.amount_in_cents",
				},
			},
		}
		raw, err := json.Marshal(body)
		Expect(err).ToNot(HaveOccurred())
		return raw
	}

	post := func(body []byte) *http.Response {
		resp, err := http.Post(testServer.URL, "application/json", bytes.NewReader(body))
		Expect(err).ToNot(HaveOccurred())
		return resp
	}

	decodeAck := func(resp *http.Response) map[string]interface{} {
		defer resp.Body.Close()
		var ack map[string]interface{}
		Expect(json.NewDecoder(resp.Body).Decode(&ack)).To(Succeed())
		return ack
	}

	BeforeEach(func() {
		logger := quietLogger()
		repo = newMockPaymentRepository()
		invoices = newMockInvoiceStore()
		eventRepo = newMockWebhookEventRepository()
		resolver = &mockConfigResolver{
			configs: map[string]*tenant.Config{
				"demo": {TenantID: "demo", EventsSecret: tenantSecret},
			},
		}

		adapter := wompi.NewAdapter(logger)
		engine := settlement.NewEngine(repo, invoices, adapter, events.NewEventBus(logger), logger)
		ledger := settlement.NewLedger(eventRepo, logger)

		handler = settlement.NewWebhookHandler(
			transport.NewBaseHandler(logger),
			engine,
			ledger,
			repo,
			adapter,
			resolver,
			defaultSecret,
			logger,
		)
		testServer = httptest.NewServer(http.HandlerFunc(handler.HandleGatewayEvent))

		day := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
		invoices.add(&invoice.Invoice{
			ID:            "BIKE01-2026-02-10",
			DeviceID:      "BIKE01",
			InvoiceDate:   day,
			TenantID:      "demo",
			AmountInCents: 500000,
			DayType:       invoice.DayTypePending,
		})
		repo.add(&payment.Payment{
			ID:            "BIKE01-2026-02-10-p1",
			Reference:     "BIKE01-2026-02-10",
			InvoiceID:     "BIKE01-2026-02-10",
			DeviceID:      "BIKE01",
			TenantID:      "demo",
			AmountInCents: 500000,
			Status:        payment.StatusPending,
		})
	})

	AfterEach(func() {
		testServer.Close()
	})

	Describe("HandleGatewayEvent", func() {
		Context("when a correctly signed APPROVED event arrives", func() {
			It("should ack immediately and settle asynchronously", func() {
				resp := post(webhookBody("BIKE01-2026-02-10", "APPROVED", tenantSecret, 1770724800))

				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(decodeAck(resp)["status"]).To(Equal("received"))

				Eventually(func() string {
					p, err := repo.GetByReference("BIKE01-2026-02-10")
					if err != nil {
						return ""
					}
					return p.Status
				}).Should(Equal(payment.StatusApproved))

				Eventually(func() bool {
					inv, err := invoices.GetByID("BIKE01-2026-02-10")
					return err == nil && inv.Paid
				}).Should(BeTrue())
			})

			It("should eventually mark the ledger event processed", func() {
				post(webhookBody("BIKE01-2026-02-10", "APPROVED", tenantSecret, 1770724800))

				Eventually(eventRepo.processedCount).Should(Equal(1))
			})
		})

		Context("when the same event is delivered twice", func() {
			It("should absorb the second delivery as a duplicate", func() {
				body := webhookBody("BIKE01-2026-02-10", "APPROVED", tenantSecret, 1770724800)

				first := post(body)
				Expect(decodeAck(first)["status"]).To(Equal("received"))

				second := post(body)
				Expect(second.StatusCode).To(Equal(http.StatusOK))
				Expect(decodeAck(second)["status"]).To(Equal("duplicate"))

				Eventually(func() int {
					invoices.mu.Lock()
					defer invoices.mu.Unlock()
					return invoices.applied
				}).Should(Equal(1))
			})
		})

		Context("when the signature does not verify", func() {
			It("should reject with 403 and record nothing", func() {
				resp := post(webhookBody("BIKE01-2026-02-10", "APPROVED", "wrong_secret", 1770724800))

				Expect(resp.StatusCode).To(Equal(http.StatusForbidden))
				Expect(eventRepo.recorded()).To(Equal(0))

				p, _ := repo.GetByReference("BIKE01-2026-02-10")
				Expect(p.Status).To(Equal(payment.StatusPending))
			})
		})

		Context("when the reference has no local payment", func() {
			It("should verify against the platform default secret", func() {
				resp := post(webhookBody("GHOST9-2026-02-10", "APPROVED", defaultSecret, 1770724801))

				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(decodeAck(resp)["status"]).To(Equal("received"))
			})
		})

		Context("when the payment store is unavailable", func() {
			It("should refuse the delivery instead of rejecting the signature", func() {
				repo.getError = errors.New("connection refused")

				resp := post(webhookBody("BIKE01-2026-02-10", "APPROVED", tenantSecret, 1770724800))

				Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
				Expect(eventRepo.recorded()).To(Equal(0))
			})
		})

		Context("when settlement fails after the ack", func() {
			It("should leave the ledger event unprocessed for the recovery pass", func() {
				repo.updateError = errors.New("connection reset")

				resp := post(webhookBody("BIKE01-2026-02-10", "APPROVED", tenantSecret, 1770724800))
				Expect(decodeAck(resp)["status"]).To(Equal("received"))

				Eventually(eventRepo.recorded).Should(Equal(1))
				Consistently(eventRepo.processedCount, 150*time.Millisecond).Should(Equal(0))
			})
		})

		Context("when the payload is malformed", func() {
			It("should reject with 400", func() {
				resp := post([]byte(`{"event": "transaction.updated"`))
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			})

			It("should reject a payload without a transaction", func() {
				resp := post([]byte(`{"event":"transaction.updated","sent_at":"x","timestamp":1,"signature":{"checksum":"aa"}}`))
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			})
		})

		Context("when the event type is not transaction.updated", func() {
			It("should acknowledge and ignore it", func() {
				body := webhookBody("BIKE01-2026-02-10", "APPROVED", tenantSecret, 1770724800)
				var payload map[string]interface{}
				Expect(json.Unmarshal(body, &payload)).To(Succeed())
				payload["event"] = "nequi_token.updated"
				raw, _ := json.Marshal(payload)

				resp := post(raw)

				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(decodeAck(resp)["status"]).To(Equal("ignored"))
				Expect(eventRepo.recorded()).To(Equal(0))
			})
		})
	})
})
