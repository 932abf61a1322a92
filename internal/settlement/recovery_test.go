package settlement_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/jfcalderon/rodarpay/internal/core/datamodel/invoice"
	"github.com/jfcalderon/rodarpay/internal/core/datamodel/payment"
	"github.com/jfcalderon/rodarpay/internal/core/events"
	"github.com/jfcalderon/rodarpay/internal/gateway/wompi"
	"github.com/jfcalderon/rodarpay/internal/settlement"
)

// Mock gateway query for testing
type mockGatewayQuery struct {
	transactions map[string]*wompi.Transaction
	errors       map[string]error
}

func newMockGatewayQuery() *mockGatewayQuery {
	return &mockGatewayQuery{
		transactions: make(map[string]*wompi.Transaction),
		errors:       make(map[string]error),
	}
}

func (m *mockGatewayQuery) GetTransactionByReference(ctx context.Context, reference string) (*wompi.Transaction, error) {
	if err, exists := m.errors[reference]; exists {
		return nil, err
	}
	return m.transactions[reference], nil
}

var _ = Describe("RecoverySweeper", func() {
	var (
		sweeper      *settlement.RecoverySweeper
		repo         *mockPaymentRepository
		invoices     *mockInvoiceStore
		gatewayQuery *mockGatewayQuery
		ctx          context.Context
	)

	stalePayment := func(reference string) *payment.Payment {
		day := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
		inv := &invoice.Invoice{
			ID:            reference,
			DeviceID:      "BIKE01",
			InvoiceDate:   day,
			TenantID:      "demo",
			AmountInCents: 500000,
			DayType:       invoice.DayTypePending,
		}
		invoices.add(inv)

		p := &payment.Payment{
			ID:            reference + "-p1",
			Reference:     reference,
			InvoiceID:     reference,
			DeviceID:      "BIKE01",
			TenantID:      "demo",
			AmountInCents: 500000,
			Status:        payment.StatusPending,
			CreatedAt:     time.Now().Add(-2 * time.Hour),
		}
		repo.add(p)
		return p
	}

	BeforeEach(func() {
		ctx = context.Background()
		repo = newMockPaymentRepository()
		invoices = newMockInvoiceStore()
		gatewayQuery = newMockGatewayQuery()
		logger := quietLogger()

		engine := settlement.NewEngine(repo, invoices, wompi.NewAdapter(logger), events.NewEventBus(logger), logger)
		sweeper = settlement.NewRecoverySweeper(repo, gatewayQuery, engine, logger)
	})

	Describe("RecoverPendingPayments", func() {
		Context("when the gateway approved a payment whose webhook never arrived", func() {
			It("should settle the payment and its invoice", func() {
				p := stalePayment("BIKE01-2026-02-10")
				gatewayQuery.transactions[p.Reference] = &wompi.Transaction{
					ID:            "txn-01",
					Reference:     p.Reference,
					Status:        "APPROVED",
					AmountInCents: 500000,
				}

				results, err := sweeper.RecoverPendingPayments(ctx, time.Hour)

				Expect(err).ToNot(HaveOccurred())
				Expect(results).To(HaveLen(1))
				Expect(results[0].Outcome).To(Equal(settlement.RecoveryUpdated))
				Expect(p.Status).To(Equal(payment.StatusApproved))

				inv, _ := invoices.GetByID(p.Reference)
				Expect(inv.Paid).To(BeTrue())
			})
		})

		Context("when the gateway has no transaction for the reference", func() {
			It("should leave the payment pending", func() {
				p := stalePayment("BIKE01-2026-02-10")

				results, err := sweeper.RecoverPendingPayments(ctx, time.Hour)

				Expect(err).ToNot(HaveOccurred())
				Expect(results[0].Outcome).To(Equal(settlement.RecoveryUnchanged))
				Expect(p.Status).To(Equal(payment.StatusPending))
			})
		})

		Context("when the gateway still reports PENDING", func() {
			It("should report unchanged", func() {
				p := stalePayment("BIKE01-2026-02-10")
				gatewayQuery.transactions[p.Reference] = &wompi.Transaction{
					ID:        "txn-01",
					Reference: p.Reference,
					Status:    "PENDING",
				}

				results, err := sweeper.RecoverPendingPayments(ctx, time.Hour)

				Expect(err).ToNot(HaveOccurred())
				Expect(results[0].Outcome).To(Equal(settlement.RecoveryUnchanged))
			})
		})

		Context("when the gateway lookup fails for one payment", func() {
			It("should still process the others", func() {
				failing := stalePayment("BIKE01-2026-02-10")
				healthy := stalePayment("BIKE02-2026-02-10")
				gatewayQuery.errors[failing.Reference] = errors.New("gateway timeout")
				gatewayQuery.transactions[healthy.Reference] = &wompi.Transaction{
					ID:            "txn-02",
					Reference:     healthy.Reference,
					Status:        "APPROVED",
					AmountInCents: 500000,
				}

				results, err := sweeper.RecoverPendingPayments(ctx, time.Hour)

				Expect(err).ToNot(HaveOccurred())
				Expect(results).To(HaveLen(2))

				outcomes := map[string]settlement.RecoveryOutcome{}
				for _, r := range results {
					outcomes[r.Reference] = r.Outcome
				}
				Expect(outcomes[failing.Reference]).To(Equal(settlement.RecoveryError))
				Expect(outcomes[healthy.Reference]).To(Equal(settlement.RecoveryUpdated))
				Expect(healthy.Status).To(Equal(payment.StatusApproved))
			})
		})

		Context("when only fresh pending payments exist", func() {
			It("should not touch them", func() {
				p := stalePayment("BIKE01-2026-02-10")
				p.CreatedAt = time.Now()

				results, err := sweeper.RecoverPendingPayments(ctx, time.Hour)

				Expect(err).ToNot(HaveOccurred())
				Expect(results).To(BeEmpty())
			})
		})
	})
})
