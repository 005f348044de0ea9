package billing

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"github.com/medzillo/medzillo/internal/inventory"
	"github.com/medzillo/medzillo/internal/money"
	"github.com/medzillo/medzillo/internal/platform/db"
	"github.com/medzillo/medzillo/internal/platform/sqlite"
	"github.com/medzillo/medzillo/internal/shared"
)

const (
	clinicID   = int64(1)
	medicineID = int64(42)
	patientID  = "P-1001"
	apptID     = "APT-1"
)

var fastRetry = db.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Microsecond, MaxDelay: time.Microsecond}

type fixedNumbers struct {
	n atomic.Int64
}

func (f *fixedNumbers) Next() string {
	return "BILL-TEST-" + strconv.FormatInt(f.n.Add(1), 10)
}

type recordedOutcome struct {
	outcome  string
	attempts int
}

type fakeRecorder struct {
	mu       sync.Mutex
	outcomes []recordedOutcome
}

func (r *fakeRecorder) ObserveSettlement(outcome string, attempts int, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, recordedOutcome{outcome, attempts})
}

func (r *fakeRecorder) last() recordedOutcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outcomes[len(r.outcomes)-1]
}

func (r *fakeRecorder) count(outcome string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, o := range r.outcomes {
		if o.outcome == outcome {
			n++
		}
	}
	return n
}

// conflictingRepo fails the first n transactions with a concurrency conflict.
type conflictingRepo struct {
	RepositoryPort
	n int
}

func (c *conflictingRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if c.n > 0 {
		c.n--
		return shared.ErrConcurrencyConflict
	}
	return c.RepositoryPort.WithTx(ctx, fn)
}

type SettleSuite struct {
	suite.Suite
	ctx      context.Context
	db       *sqlx.DB
	repo     RepositoryPort
	ledger   *inventory.Ledger
	dir      *SQLiteDirectory
	recorder *fakeRecorder
	svc      *Service
}

func TestSettleSuite(t *testing.T) {
	suite.Run(t, new(SettleSuite))
}

func (s *SettleSuite) SetupTest() {
	s.ctx = context.Background()
	conn, err := sqlite.Connect(s.ctx, filepath.Join(s.T().TempDir(), "settle.db"))
	s.Require().NoError(err)
	s.Require().NoError(sqlite.Migrate(s.ctx, conn))
	s.db = conn
	conn.MustExec(`INSERT INTO clinics (id, name, address, gstin) VALUES (1, 'Sunrise Clinic', 'MG Road', '29ABCDE1234F1Z5')`)
	conn.MustExec(`INSERT INTO patients (id, clinic_id, name, phone) VALUES (?, 1, 'Asha Rao', '98450')`, patientID)
	conn.MustExec(`INSERT INTO appointments (id, clinic_id, patient_id, status) VALUES (?, 1, ?, 'Scheduled')`, apptID, patientID)
	conn.MustExec(`INSERT INTO medicines (id, clinic_id, name, gst_rate, min_stock_level) VALUES (42, 1, 'Amoxicillin 250', '12', 10)`)

	s.ledger = inventory.NewLedger(inventory.NewSQLiteRepository(conn), nil, nil, inventory.Config{Retry: fastRetry}, nil)
	s.createBatch("A", 1, 10, time.Date(2027, 1, 31, 0, 0, 0, 0, time.UTC), "20.00")
	s.createBatch("B", 2, 10, time.Date(2027, 6, 30, 0, 0, 0, 0, time.UTC), "30.00")

	s.repo = NewSQLiteRepository(conn)
	s.dir = NewSQLiteDirectory(conn)
	s.recorder = &fakeRecorder{}
	s.svc = s.newService(ShortfallStrict, s.repo)
}

func (s *SettleSuite) TearDownTest() {
	_ = s.db.Close()
}

func (s *SettleSuite) newService(policy ShortfallPolicy, repo RepositoryPort) *Service {
	return NewService(Deps{
		Repo:     repo,
		Ledger:   s.ledger,
		Patients: s.dir,
		Numbers:  &fixedNumbers{},
		Audit:    shared.NewSQLiteAuditLogger(s.db),
		Recorder: s.recorder,
	}, Config{Shortfall: policy, Retry: fastRetry})
}

func (s *SettleSuite) createBatch(number string, packs, packSize int64, expiry time.Time, rate string) {
	_, err := s.ledger.CreateBatch(s.ctx, inventory.CreateBatchInput{ClinicID: clinicID, MedicineID: medicineID, Spec: inventory.BatchSpec{
		BatchNumber: number, PackQuantity: packs, PackSize: packSize, ExpiryDate: expiry, SellingRate: money.MustParse(rate),
	}})
	s.Require().NoError(err)
}

func (s *SettleSuite) medicineLine(qty int64) LineRequest {
	return LineRequest{Type: ItemMedicine, MedicineID: medicineID, Quantity: qty}
}

func (s *SettleSuite) input(lines ...LineRequest) SettleInput {
	return SettleInput{ClinicID: clinicID, ActorID: 7, Patient: PatientRef{ID: patientID}, Lines: lines, PaymentMode: PaymentCash}
}

func (s *SettleSuite) stock() (total int64, view inventory.StockView) {
	view, err := s.ledger.GetStock(s.ctx, clinicID, medicineID)
	s.Require().NoError(err)
	return view.Medicine.TotalStockInUnits, view
}

func (s *SettleSuite) count(query string, args ...any) int {
	var n int
	s.Require().NoError(s.db.Get(&n, query, args...))
	return n
}

func (s *SettleSuite) appointmentStatus() string {
	var status string
	s.Require().NoError(s.db.Get(&status, `SELECT status FROM appointments WHERE id = ?`, apptID))
	return status
}

func (s *SettleSuite) requireAggregateConsistent() {
	res, err := s.ledger.Reconcile(s.ctx, clinicID, medicineID, false)
	s.Require().NoError(err)
	s.Require().Zero(res.Drift)
}

func (s *SettleSuite) TestSettleAllocatesFIFOAndCommits() {
	in := s.input(s.medicineLine(15))
	in.AppointmentID = apptID
	bill, err := s.svc.Settle(s.ctx, in)
	s.Require().NoError(err)

	s.Require().Len(bill.Items, 2)
	s.Equal("A", bill.Items[0].BatchNumber)
	s.Equal(int64(10), bill.Items[0].Quantity)
	s.Equal(money.MustParse("2.00"), bill.Items[0].Rate)
	s.Equal(money.MustParse("20.00"), bill.Items[0].Amount)
	s.Equal("B", bill.Items[1].BatchNumber)
	s.Equal(int64(5), bill.Items[1].Quantity)
	s.Equal(money.MustParse("3.00"), bill.Items[1].Rate)
	s.Equal(money.MustParse("35.00"), bill.SubTotal)
	s.Require().Len(bill.TaxDetails, 1)
	s.Equal(money.MustParse("2.10"), bill.TaxDetails[0].CGST)
	s.Equal(money.MustParse("2.10"), bill.TaxDetails[0].SGST)
	s.Equal(money.MustParse("39.20"), bill.TotalAmount)
	s.Equal("Asha Rao", bill.PatientName)

	total, view := s.stock()
	s.Equal(int64(15), total)
	s.Equal(int64(0), view.Batches[0].UnitStock())
	s.Equal(int64(15), view.Batches[1].UnitStock())
	s.Equal(AppointmentBilled, s.appointmentStatus())
	s.Equal(2, s.count(`SELECT COUNT(*) FROM stock_movements WHERE kind = 'SALE' AND ref_id = ?`, bill.BillNumber))
	s.Equal(1, s.count(`SELECT COUNT(*) FROM audit_logs WHERE action = 'billing:settle'`))
	s.Equal(recordedOutcome{OutcomeCommitted, 1}, s.recorder.last())
	s.requireAggregateConsistent()

	stored, err := s.svc.GetBill(s.ctx, clinicID, bill.BillNumber)
	s.Require().NoError(err)
	s.Equal(bill.ID, stored.ID)
	s.Equal(bill.Items, stored.Items)
	s.Equal(bill.TotalAmount, stored.TotalAmount)
	s.True(bill.CreatedAt.Equal(stored.CreatedAt))
	s.Require().Len(stored.TaxDetails, 1)
	s.True(stored.TaxDetails[0].Rate.Equal(decimal.NewFromInt(12)))
}

func (s *SettleSuite) TestStrictShortfallAbortsWithoutChanges() {
	in := s.input(s.medicineLine(40))
	in.AppointmentID = apptID
	_, err := s.svc.Settle(s.ctx, in)

	var stockErr *shared.InsufficientStockError
	s.Require().ErrorAs(err, &stockErr)
	s.Equal(shared.InsufficientStockError{MedicineID: medicineID, Available: 30, Required: 40}, *stockErr)
	total, _ := s.stock()
	s.Equal(int64(30), total)
	s.Zero(s.count(`SELECT COUNT(*) FROM bills`))
	s.Equal("Scheduled", s.appointmentStatus())
	s.Equal(OutcomeRejected, s.recorder.last().outcome)
}

func (s *SettleSuite) TestStrictShortfallSumsLinesOfSameMedicine() {
	_, err := s.svc.Settle(s.ctx, s.input(s.medicineLine(20), s.medicineLine(11)))
	var stockErr *shared.InsufficientStockError
	s.Require().ErrorAs(err, &stockErr)
	s.Equal(int64(31), stockErr.Required)
}

func (s *SettleSuite) TestGracefulShortfallBillsZeroRateLine() {
	svc := s.newService(ShortfallGraceful, s.repo)
	bill, err := svc.Settle(s.ctx, s.input(s.medicineLine(40)))
	s.Require().NoError(err)

	s.Require().Len(bill.Items, 3)
	last := bill.Items[2]
	s.Empty(last.BatchNumber)
	s.Equal(int64(10), last.Quantity)
	s.Equal(money.Zero, last.Rate)
	s.Equal(money.Zero, last.Amount)
	s.Equal(money.MustParse("80.00"), bill.SubTotal)
	total, _ := s.stock()
	s.Zero(total)
	s.requireAggregateConsistent()
}

func (s *SettleSuite) TestLinesForSameMedicineConsumeCumulatively() {
	bill, err := s.svc.Settle(s.ctx, s.input(s.medicineLine(8), s.medicineLine(8)))
	s.Require().NoError(err)

	s.Require().Len(bill.Items, 3)
	s.Equal([]string{"A", "A", "B"}, []string{bill.Items[0].BatchNumber, bill.Items[1].BatchNumber, bill.Items[2].BatchNumber})
	s.Equal([]int64{8, 2, 6}, []int64{bill.Items[0].Quantity, bill.Items[1].Quantity, bill.Items[2].Quantity})
	s.Equal([]int{1, 2, 3}, []int{bill.Items[0].Position, bill.Items[1].Position, bill.Items[2].Position})
	total, _ := s.stock()
	s.Equal(int64(14), total)
	s.requireAggregateConsistent()
}

func (s *SettleSuite) TestFeeLinesAreBilledUnchanged() {
	fee := LineRequest{Type: ItemConsultationFee, Description: "Consultation", Quantity: 1, Rate: money.MustParse("500.00")}
	svc := LineRequest{Type: ItemService, Description: "Dressing", Quantity: 2, Rate: money.MustParse("50.00"), GSTRate: decimal.NewFromInt(18)}
	bill, err := s.svc.Settle(s.ctx, s.input(fee, s.medicineLine(15), svc))
	s.Require().NoError(err)

	s.Require().Len(bill.Items, 4)
	s.Equal(ItemConsultationFee, bill.Items[0].Type)
	s.Equal(money.MustParse("100.00"), bill.Items[3].Amount)
	s.Equal(money.MustParse("635.00"), bill.SubTotal)
	s.Require().Len(bill.TaxDetails, 2)
	s.True(bill.TaxDetails[0].Rate.Equal(decimal.NewFromInt(12)))
	s.True(bill.TaxDetails[1].Rate.Equal(decimal.NewFromInt(18)))
	s.Equal(money.MustParse("9.00"), bill.TaxDetails[1].CGST)
	s.Equal(money.MustParse("635.00")+money.MustParse("4.20")+money.MustParse("18.00"), bill.TotalAmount)
}

func (s *SettleSuite) TestAppointmentFailureRollsBackStock() {
	s.db.MustExec(`UPDATE appointments SET status = 'Billed' WHERE id = ?`, apptID)
	in := s.input(s.medicineLine(15))
	in.AppointmentID = apptID
	_, err := s.svc.Settle(s.ctx, in)
	s.Require().ErrorIs(err, shared.ErrValidation)

	total, _ := s.stock()
	s.Equal(int64(30), total)
	s.Zero(s.count(`SELECT COUNT(*) FROM bills`))
	s.Zero(s.count(`SELECT COUNT(*) FROM bill_items`))
	s.Zero(s.count(`SELECT COUNT(*) FROM stock_movements WHERE kind = 'SALE'`))

	in.AppointmentID = "APT-missing"
	_, err = s.svc.Settle(s.ctx, in)
	s.Require().ErrorIs(err, shared.ErrNotFound)
	total, _ = s.stock()
	s.Equal(int64(30), total)
}

func (s *SettleSuite) TestIdempotentReplayReturnsCommittedBill() {
	in := s.input(s.medicineLine(5))
	in.IdempotencyKey = "req-123"
	first, err := s.svc.Settle(s.ctx, in)
	s.Require().NoError(err)
	second, err := s.svc.Settle(s.ctx, in)
	s.Require().NoError(err)

	s.Equal(first.BillNumber, second.BillNumber)
	s.Equal(first.ID, second.ID)
	total, _ := s.stock()
	s.Equal(int64(25), total)
	s.Equal(1, s.count(`SELECT COUNT(*) FROM bills`))
	s.Equal(OutcomeReplayed, s.recorder.last().outcome)
}

func (s *SettleSuite) TestRetriesConcurrencyConflicts() {
	svc := s.newService(ShortfallStrict, &conflictingRepo{RepositoryPort: s.repo, n: 2})
	_, err := svc.Settle(s.ctx, s.input(s.medicineLine(5)))
	s.Require().NoError(err)
	s.Equal(recordedOutcome{OutcomeCommitted, 3}, s.recorder.last())

	svc = s.newService(ShortfallStrict, &conflictingRepo{RepositoryPort: s.repo, n: 5})
	_, err = svc.Settle(s.ctx, s.input(s.medicineLine(5)))
	s.Require().ErrorIs(err, shared.ErrConcurrencyConflict)
	s.Equal(recordedOutcome{OutcomeConflict, 3}, s.recorder.last())
	total, _ := s.stock()
	s.Equal(int64(25), total)
}

func (s *SettleSuite) TestDeletedBatchIsNoLongerAllocated() {
	med, err := s.ledger.DeleteBatch(s.ctx, inventory.DeleteBatchInput{ClinicID: clinicID, MedicineID: medicineID, BatchNumber: "B"})
	s.Require().NoError(err)
	s.Equal(int64(10), med.TotalStockInUnits)

	_, err = s.svc.Settle(s.ctx, s.input(s.medicineLine(15)))
	var stockErr *shared.InsufficientStockError
	s.Require().ErrorAs(err, &stockErr)
	s.Equal(int64(10), stockErr.Available)
}

func (s *SettleSuite) TestUnknownPatientAndForeignMedicine() {
	in := s.input(s.medicineLine(1))
	in.Patient.ID = "P-404"
	_, err := s.svc.Settle(s.ctx, in)
	s.Require().ErrorIs(err, shared.ErrNotFound)

	in = s.input(LineRequest{Type: ItemMedicine, MedicineID: 999, Quantity: 1})
	_, err = s.svc.Settle(s.ctx, in)
	s.Require().ErrorIs(err, shared.ErrNotFound)
}

func (s *SettleSuite) TestValidation() {
	cases := map[string]SettleInput{
		"no lines":       s.input(),
		"bad payment":    func() SettleInput { in := s.input(s.medicineLine(1)); in.PaymentMode = "Barter"; return in }(),
		"no patient":     func() SettleInput { in := s.input(s.medicineLine(1)); in.Patient.ID = " "; return in }(),
		"zero quantity":  s.input(s.medicineLine(0)),
		"no medicine id": s.input(LineRequest{Type: ItemMedicine, Quantity: 1}),
		"fee no desc":    s.input(LineRequest{Type: ItemConsultationFee, Quantity: 1, Rate: money.MustParse("100.00")}),
		"negative rate":  s.input(LineRequest{Type: ItemProduct, Description: "Mask", Quantity: 1, Rate: money.MustParse("-1.00")}),
		"unknown type":   s.input(LineRequest{Type: "Gift", Description: "x", Quantity: 1}),
	}
	for name, in := range cases {
		_, err := s.svc.Settle(s.ctx, in)
		s.ErrorIs(err, shared.ErrValidation, name)
	}
	total, _ := s.stock()
	s.Equal(int64(30), total)
}

func (s *SettleSuite) TestRejectsAmountsBeyondRange() {
	fee := func(qty int64, rate money.Amount) LineRequest {
		return LineRequest{Type: ItemService, Description: "Dressing", Quantity: qty, Rate: rate}
	}
	cases := map[string]SettleInput{
		"rate times quantity": s.input(fee(3, money.MustParse("9000000000000.00"))),
		"huge quantity":       s.input(fee(math.MaxInt64, money.MustParse("1.00"))),
		"rate out of range":   s.input(fee(1, money.MaxAmount+1)),
		"sum of lines":        s.input(fee(1, money.MaxAmount), fee(1, money.MaxAmount)),
	}
	for name, in := range cases {
		_, err := s.svc.Settle(s.ctx, in)
		var ve *shared.ValidationError
		s.Require().ErrorAs(err, &ve, name)
	}
	s.Zero(s.count(`SELECT COUNT(*) FROM bills`))
}

func (s *SettleSuite) TestRejectsUnstorableTaxRates() {
	fee := func(rate string) LineRequest {
		return LineRequest{Type: ItemConsultationFee, Description: "Consultation", Quantity: 1, Rate: money.MustParse("100.00"), GSTRate: decimal.RequireFromString(rate)}
	}
	for _, rate := range []string{"5.001", "1000", "-2"} {
		_, err := s.svc.Settle(s.ctx, s.input(fee(rate)))
		var ve *shared.ValidationError
		s.Require().ErrorAs(err, &ve, rate)
		s.Equal("lines[0].gst_rate", ve.Field, rate)
	}

	bill, err := s.svc.Settle(s.ctx, s.input(fee("5.00"), fee("5.0")))
	s.Require().NoError(err)
	s.Len(bill.TaxDetails, 1)
}

func (s *SettleSuite) TestConcurrentSettlesNeverOversell() {
	const buyers = 8
	var (
		wg        sync.WaitGroup
		committed atomic.Int32
		short     atomic.Int32
		other     = make(chan error, buyers)
	)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.svc.Settle(s.ctx, s.input(s.medicineLine(10)))
			var stockErr *shared.InsufficientStockError
			switch {
			case err == nil:
				committed.Add(1)
			case errors.As(err, &stockErr):
				short.Add(1)
			default:
				other <- err
			}
		}()
	}
	wg.Wait()
	close(other)
	for err := range other {
		s.Fail("unexpected settle error", err.Error())
	}

	s.Equal(int32(3), committed.Load())
	s.Equal(int32(buyers-3), short.Load())
	total, view := s.stock()
	s.Zero(total)
	for _, b := range view.Batches {
		s.Zero(b.UnitStock(), b.BatchNumber)
	}
	s.Equal(3, s.count(`SELECT COUNT(*) FROM bills`))
	s.Equal(30, s.count(`SELECT COALESCE(SUM(quantity), 0) FROM bill_items WHERE batch_number IS NOT NULL`))
	s.Equal(3, s.recorder.count(OutcomeCommitted))
	s.requireAggregateConsistent()
}
