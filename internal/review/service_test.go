package review

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/receiving/internal/batch"
	"github.com/odyssey-erp/receiving/internal/shared"
)

type memoryRepo struct {
	mu        sync.Mutex
	batches   []BatchInfo
	serials   []SerialRecord
	failNext  error
	lookups   int
	nextBatch int64
	searched  []SerialFilter
}

type memoryTx struct {
	repo    *memoryRepo
	batches []BatchInfo
	serials []SerialRecord
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx := &memoryTx{repo: r}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, tx.batches...)
	r.serials = append(r.serials, tx.serials...)
	return nil
}

func (tx *memoryTx) InsertBatch(ctx context.Context, info BatchInfo) (int64, error) {
	r := tx.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.batches {
		if b.BatchNumber == info.BatchNumber {
			return 0, ErrDuplicateBatch
		}
	}
	r.nextBatch++
	info.ID = r.nextBatch
	tx.batches = append(tx.batches, info)
	return info.ID, nil
}

func (tx *memoryTx) InsertSerials(ctx context.Context, batchID int64, serials []SerialRecord) error {
	if err := tx.repo.failNext; err != nil {
		tx.repo.failNext = nil
		return err
	}
	for _, s := range serials {
		s.BatchInfoID = batchID
		s.ID = int64(len(tx.repo.serials)+len(tx.serials)) + 1
		tx.serials = append(tx.serials, s)
	}
	return nil
}

func (r *memoryRepo) GetBatch(ctx context.Context, id int64) (BatchInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.batches {
		if b.ID == id {
			return b, nil
		}
	}
	return BatchInfo{}, ErrNotFound
}

func (r *memoryRepo) GetBatchByNumber(ctx context.Context, number string) (BatchInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lookups++
	for _, b := range r.batches {
		if b.BatchNumber == number {
			return b, nil
		}
	}
	return BatchInfo{}, ErrNotFound
}

func (r *memoryRepo) ListSerials(ctx context.Context, batchID int64, includeVoided bool) ([]SerialRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []SerialRecord
	for _, s := range r.serials {
		if s.BatchInfoID == batchID && (includeVoided || !s.Voided) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *memoryRepo) SearchSerials(ctx context.Context, f SerialFilter) ([]SerialHit, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.searched = append(r.searched, f)
	numbers := map[int64]string{}
	for _, b := range r.batches {
		numbers[b.ID] = b.BatchNumber
	}
	var hits []SerialHit
	for _, s := range r.serials {
		switch {
		case f.BatchNumber != "" && numbers[s.BatchInfoID] != f.BatchNumber,
			f.Serial != "" && !strings.Contains(strings.ToLower(s.Serial), strings.ToLower(f.Serial)),
			f.Status != "" && s.Status != f.Status,
			f.Voided != nil && s.Voided != *f.Voided:
			continue
		}
		hits = append(hits, SerialHit{SerialRecord: s, BatchNumber: numbers[s.BatchInfoID]})
	}
	less := func(a, b SerialHit) bool { return a.ID < b.ID }
	switch f.SortBy {
	case "serial":
		less = func(a, b SerialHit) bool { return a.Serial < b.Serial }
	case "item_no":
		less = func(a, b SerialHit) bool { return a.ItemNo < b.ItemNo }
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if strings.EqualFold(f.SortOrder, "desc") {
			return less(hits[j], hits[i])
		}
		return less(hits[i], hits[j])
	})
	total := len(hits)
	start := min(f.Offset, total)
	end := min(start+f.Limit, total)
	return hits[start:end], total, nil
}

func (r *memoryRepo) GetSerial(ctx context.Context, id int64) (SerialRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.serials {
		if s.ID == id {
			return s, nil
		}
	}
	return SerialRecord{}, ErrNotFound
}

func (r *memoryRepo) VoidSerial(ctx context.Context, id int64, actor string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.serials {
		if r.serials[i].ID == id && !r.serials[i].Voided {
			r.serials[i].Voided = true
			r.serials[i].VoidedAt = &at
			r.serials[i].VoidedBy = actor
			return true, nil
		}
	}
	return false, nil
}

func (r *memoryRepo) UpdateSerialStatus(ctx context.Context, batchID int64, from, to SerialStatus) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for i := range r.serials {
		s := &r.serials[i]
		if s.BatchInfoID == batchID && s.Status == from && !s.Voided {
			s.Status = to
			n++
		}
	}
	return n, nil
}

type memoryIdem struct {
	keys map[string]bool
}

func (m *memoryIdem) CheckAndInsert(ctx context.Context, key, module string) error {
	if m.keys[key] {
		return shared.ErrIdempotencyConflict
	}
	m.keys[key] = true
	return nil
}

func (m *memoryIdem) Delete(ctx context.Context, key string) error {
	delete(m.keys, key)
	return nil
}

type memoryAudit struct {
	logs []shared.AuditLog
}

func (m *memoryAudit) Record(ctx context.Context, log shared.AuditLog) error {
	m.logs = append(m.logs, log)
	return nil
}

type memoryQueue struct {
	batches []int64
	err     error
}

func (q *memoryQueue) EnqueueComplianceReview(ctx context.Context, batchID int64, number string) error {
	q.batches = append(q.batches, batchID)
	return q.err
}

func verifiedHandoff(number string, serials ...string) batch.Handoff {
	return batch.Handoff{
		ID:            uuid.New(),
		Stage:         batch.StageReview,
		BatchNumber:   number,
		PartNumber:    "PN-1",
		Type:          batch.TypeInbound,
		NumberOfItems: len(serials),
		Verified:      true,
		CurrentCount:  len(serials),
		Serials:       serials,
		Principal:     "7",
		DeclaredAt:    time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

type fixture struct {
	repo  *memoryRepo
	idem  *memoryIdem
	audit *memoryAudit
	queue *memoryQueue
	svc   *Service
}

func newFixture() fixture {
	f := fixture{
		repo:  &memoryRepo{},
		idem:  &memoryIdem{keys: map[string]bool{}},
		audit: &memoryAudit{},
		queue: &memoryQueue{},
	}
	f.svc = NewService(f.repo, f.audit, f.idem, ServiceConfig{Queue: f.queue})
	return f
}

func TestSubmitPersistsBatchAndSerials(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	require.NoError(t, f.svc.Submit(ctx, verifiedHandoff("B-1", "A", "B", "C")))

	detail, err := f.svc.Lookup(ctx, "B-1")
	require.NoError(t, err)
	require.Equal(t, "C", detail.Batch.LastScannedItem)
	require.Equal(t, 3, detail.Batch.CurrentItemNumber)
	require.Equal(t, "7", detail.Batch.SubmittedBy)
	require.Equal(t, 3, detail.TotalRecords)
	for i, s := range detail.Serials {
		require.Equal(t, i+1, s.ItemNo)
		require.Equal(t, SerialNewScan, s.Status)
	}
	require.Equal(t, []int64{detail.Batch.ID}, f.queue.batches)
	require.Len(t, f.audit.logs, 1)
	require.Equal(t, "review:submit", f.audit.logs[0].Action)
}

func TestSubmitIsIdempotentPerHandoff(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	h := verifiedHandoff("B-2", "A")

	require.NoError(t, f.svc.Submit(ctx, h))
	require.NoError(t, f.svc.Submit(ctx, h))
	require.Len(t, f.repo.batches, 1)
	require.Len(t, f.queue.batches, 1)
}

func TestSubmitRejectsUnverifiedHandoff(t *testing.T) {
	f := newFixture()
	h := verifiedHandoff("B-3", "A", "B")
	h.Serials = h.Serials[:1]
	require.ErrorIs(t, f.svc.Submit(context.Background(), h), ErrIncompleteHandoff)

	h = verifiedHandoff("B-3", "A")
	h.Verified = false
	require.ErrorIs(t, f.svc.Submit(context.Background(), h), ErrIncompleteHandoff)
	require.Empty(t, f.repo.batches)
}

func TestSubmitReleasesKeyOnFailure(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	h := verifiedHandoff("B-4", "A")
	f.repo.failNext = errors.New("copy failed")

	require.Error(t, f.svc.Submit(ctx, h))
	require.Empty(t, f.idem.keys)
	require.Empty(t, f.repo.batches)

	require.NoError(t, f.svc.Submit(ctx, h))
	require.Len(t, f.repo.batches, 1)
}

func TestSubmitDuplicateBatchNumber(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	require.NoError(t, f.svc.Submit(ctx, verifiedHandoff("B-5", "A")))
	err := f.svc.Submit(ctx, verifiedHandoff("B-5", "X"))
	require.ErrorIs(t, err, ErrDuplicateBatch)
}

func TestSubmitSurvivesQueueFailure(t *testing.T) {
	f := newFixture()
	f.queue.err = errors.New("redis down")
	require.NoError(t, f.svc.Submit(context.Background(), verifiedHandoff("B-6", "A")))
	require.Len(t, f.repo.batches, 1)
}

func TestVoidSerial(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	require.NoError(t, f.svc.Submit(ctx, verifiedHandoff("B-7", "A", "B")))
	detail, err := f.svc.Lookup(ctx, "B-7")
	require.NoError(t, err)

	rec, err := f.svc.VoidSerial(ctx, detail.Serials[0].ID, "9")
	require.NoError(t, err)
	require.True(t, rec.Voided)
	require.Equal(t, "9", rec.VoidedBy)

	_, err = f.svc.VoidSerial(ctx, detail.Serials[0].ID, "9")
	require.ErrorIs(t, err, ErrAlreadyVoided)

	_, err = f.svc.VoidSerial(ctx, 999, "9")
	require.ErrorIs(t, err, ErrNotFound)

	detail, err = f.svc.Lookup(ctx, "B-7")
	require.NoError(t, err)
	require.Equal(t, 1, detail.TotalRecords)
	require.Equal(t, "B", detail.Serials[0].Serial)
}

func TestComplianceLifecycle(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	require.NoError(t, f.svc.Submit(ctx, verifiedHandoff("B-8", "A", "B", "C")))
	id := f.queue.batches[0]

	moved, err := f.svc.Complete(ctx, id, "7")
	require.NoError(t, err)
	require.Zero(t, moved)

	moved, err = f.svc.AdvanceCompliance(ctx, id)
	require.NoError(t, err)
	require.EqualValues(t, 3, moved)

	moved, err = f.svc.Complete(ctx, id, "7")
	require.NoError(t, err)
	require.EqualValues(t, 3, moved)

	serials, err := f.repo.ListSerials(ctx, id, true)
	require.NoError(t, err)
	for _, s := range serials {
		require.Equal(t, SerialComplete, s.Status)
	}

	_, err = f.svc.AdvanceCompliance(ctx, 404)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLookupUnknownBatch(t *testing.T) {
	f := newFixture()
	_, err := f.svc.Lookup(context.Background(), "nope")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = f.svc.Lookup(context.Background(), "")
	require.ErrorIs(t, err, ErrNotFound)
}

// stallingRepo holds batch lookups until released and fails them when the
// query context has been cancelled.
type stallingRepo struct {
	*memoryRepo
	entered chan struct{}
	release chan struct{}
}

func (r *stallingRepo) GetBatchByNumber(ctx context.Context, number string) (BatchInfo, error) {
	r.entered <- struct{}{}
	<-r.release
	if err := ctx.Err(); err != nil {
		return BatchInfo{}, err
	}
	return r.memoryRepo.GetBatchByNumber(ctx, number)
}

func TestLookupSurvivesFirstCallerCancel(t *testing.T) {
	f := newFixture()
	require.NoError(t, f.svc.Submit(context.Background(), verifiedHandoff("B-9", "A", "B")))

	repo := &stallingRepo{memoryRepo: f.repo, entered: make(chan struct{}, 2), release: make(chan struct{})}
	svc := NewService(repo, f.audit, f.idem, ServiceConfig{})

	firstCtx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := svc.Lookup(firstCtx, "B-9")
		firstErr <- err
	}()
	<-repo.entered

	second := make(chan BatchDetail, 1)
	secondErr := make(chan error, 1)
	go func() {
		detail, err := svc.Lookup(context.Background(), "B-9")
		second <- detail
		secondErr <- err
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	require.ErrorIs(t, <-firstErr, context.Canceled)

	close(repo.release)
	require.NoError(t, <-secondErr)
	detail := <-second
	require.Equal(t, "B-9", detail.Batch.BatchNumber)
	require.Len(t, detail.Serials, 2)
}

func TestSearchSerialsPagesAndSorts(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	require.NoError(t, f.svc.Submit(ctx, verifiedHandoff("B-20", "c3", "a1", "b2")))
	require.NoError(t, f.svc.Submit(ctx, verifiedHandoff("B-21", "A9")))

	hits, page, err := f.svc.SearchSerials(ctx, SerialFilter{Serial: "a", SortBy: "serial", SortOrder: "desc"}, 1, 1)
	require.NoError(t, err)
	require.Equal(t, 2, page.Total)
	require.Equal(t, 2, page.TotalPages)
	require.Len(t, hits, 1)
	require.Equal(t, "a1", hits[0].Serial)
	require.Equal(t, "B-20", hits[0].BatchNumber)

	hits, page, err = f.svc.SearchSerials(ctx, SerialFilter{BatchNumber: "B-20", SortBy: "item_no"}, 2, 2)
	require.NoError(t, err)
	require.Equal(t, 3, page.Total)
	require.Len(t, hits, 1)
	require.Equal(t, "b2", hits[0].Serial)

	last := f.repo.searched[len(f.repo.searched)-1]
	require.Equal(t, 2, last.Limit)
	require.Equal(t, 2, last.Offset)
}

func TestSearchSerialsRejectsBadFilter(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, _, err := f.svc.SearchSerials(ctx, SerialFilter{SortBy: "password"}, 1, 10)
	require.ErrorIs(t, err, ErrInvalidFilter)
	_, _, err = f.svc.SearchSerials(ctx, SerialFilter{SortOrder: "sideways"}, 1, 10)
	require.ErrorIs(t, err, ErrInvalidFilter)

	from := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, -1)
	_, _, err = f.svc.SearchSerials(ctx, SerialFilter{From: &from, To: &to}, 1, 10)
	require.ErrorIs(t, err, ErrInvalidFilter)
	require.Empty(t, f.repo.searched)
}
