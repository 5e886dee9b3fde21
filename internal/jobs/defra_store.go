package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackzampolin/audiodoc/internal/defra"
)

// DefraCollection is the DefraDB collection that holds job records.
const DefraCollection = "AudioJob"

// DefraSchema is the SDL for DefraCollection. Timestamps are fixed-width
// UTC strings so they order lexically.
const DefraSchema = `type AudioJob {
	job_type: String
	status: String
	created_at: String
	updated_at: String
	started_at: String
	completed_at: String
	error: String
	input: String
	result: String
	metadata: String
}`

const defraTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const defraFields = `_docID job_type status created_at updated_at started_at completed_at error input result metadata`

// DefraStore keeps records in a DefraDB node.
type DefraStore struct {
	client *defra.Client
	now    func() time.Time
}

// OpenDefra registers the collection on the node and returns a store.
func OpenDefra(ctx context.Context, client *defra.Client) (*DefraStore, error) {
	if err := client.AddSchema(ctx, DefraSchema); err != nil {
		return nil, fmt.Errorf("failed to add job schema: %w", err)
	}
	return &DefraStore{client: client, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *DefraStore) Create(ctx context.Context, rec *Record) (string, error) {
	input := map[string]any{
		"job_type":   rec.JobType,
		"status":     string(rec.Status),
		"created_at": formatDefraTime(rec.CreatedAt),
		"updated_at": formatDefraTime(rec.UpdatedAt),
		"error":      rec.Error,
	}
	if len(rec.Input) > 0 {
		input["input"] = string(rec.Input)
	}
	if len(rec.Result) > 0 {
		input["result"] = string(rec.Result)
	}
	if rec.Metadata != nil {
		meta, err := json.Marshal(rec.Metadata)
		if err != nil {
			return "", fmt.Errorf("failed to marshal metadata: %w", err)
		}
		input["metadata"] = string(meta)
	}
	return s.client.Create(ctx, DefraCollection, input)
}

func (s *DefraStore) Get(ctx context.Context, id string) (*Record, error) {
	if err := defra.ValidateID(id); err != nil {
		return nil, ErrNotFound
	}
	resp, err := s.client.Query(ctx, fmt.Sprintf(`{ %s(docID: %q) { %s } }`, DefraCollection, id, defraFields))
	if err != nil {
		return nil, err
	}
	docs := resp.Docs(DefraCollection)
	if len(docs) == 0 {
		return nil, ErrNotFound
	}
	return parseDefraRecord(docs[0])
}

func (s *DefraStore) List(ctx context.Context, filter ListFilter) ([]*Record, error) {
	var conds []string
	if filter.JobType != "" {
		v, _ := defra.ValueToGraphQL(filter.JobType)
		conds = append(conds, "job_type: {_eq: "+v+"}")
	}
	if len(filter.Statuses) > 0 {
		vals := make([]any, len(filter.Statuses))
		for i, st := range filter.Statuses {
			vals[i] = string(st)
		}
		v, _ := defra.ValueToGraphQL(vals)
		conds = append(conds, "status: {_in: "+v+"}")
	}

	args := fmt.Sprintf("order: {created_at: DESC}, limit: %d", filter.limit())
	if len(conds) > 0 {
		args = "filter: {" + strings.Join(conds, ", ") + "}, " + args
	}

	resp, err := s.client.Query(ctx, fmt.Sprintf(`{ %s(%s) { %s } }`, DefraCollection, args, defraFields))
	if err != nil {
		return nil, err
	}

	out := []*Record{}
	for _, doc := range resp.Docs(DefraCollection) {
		rec, err := parseDefraRecord(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *DefraStore) UpdateStatus(ctx context.Context, id string, status Status, errMsg string) error {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	rec.applyStatus(status, errMsg, s.now())

	patch := map[string]any{
		"status":     string(rec.Status),
		"updated_at": formatDefraTime(rec.UpdatedAt),
		"error":      rec.Error,
	}
	if rec.StartedAt != nil {
		patch["started_at"] = formatDefraTime(*rec.StartedAt)
	}
	if rec.CompletedAt != nil {
		patch["completed_at"] = formatDefraTime(*rec.CompletedAt)
	}
	return s.client.Update(ctx, DefraCollection, id, patch)
}

func (s *DefraStore) UpdateMetadata(ctx context.Context, id string, metadata map[string]any) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	meta, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return s.client.Update(ctx, DefraCollection, id, map[string]any{
		"metadata":   string(meta),
		"updated_at": formatDefraTime(s.now()),
	})
}

func (s *DefraStore) SetResult(ctx context.Context, id string, result json.RawMessage) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return s.client.Update(ctx, DefraCollection, id, map[string]any{
		"result":     string(result),
		"updated_at": formatDefraTime(s.now()),
	})
}

func (s *DefraStore) Delete(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return s.client.Delete(ctx, DefraCollection, id)
}

func (s *DefraStore) HealthCheck(ctx context.Context) error {
	return s.client.HealthCheck(ctx)
}

func (s *DefraStore) Close() error { return nil }

func formatDefraTime(t time.Time) string {
	return t.UTC().Format(defraTimeLayout)
}

func parseDefraRecord(doc map[string]any) (*Record, error) {
	str := func(key string) string {
		v, _ := doc[key].(string)
		return v
	}
	ts := func(key string) (*time.Time, error) {
		v := str(key)
		if v == "" {
			return nil, nil
		}
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, fmt.Errorf("bad %s %q: %w", key, v, err)
		}
		t = t.UTC()
		return &t, nil
	}

	rec := &Record{
		ID:      str("_docID"),
		JobType: str("job_type"),
		Status:  Status(str("status")),
		Error:   str("error"),
	}

	var err error
	var created, updated *time.Time
	if created, err = ts("created_at"); err != nil {
		return nil, err
	}
	if updated, err = ts("updated_at"); err != nil {
		return nil, err
	}
	if rec.StartedAt, err = ts("started_at"); err != nil {
		return nil, err
	}
	if rec.CompletedAt, err = ts("completed_at"); err != nil {
		return nil, err
	}
	if created != nil {
		rec.CreatedAt = *created
	}
	if updated != nil {
		rec.UpdatedAt = *updated
	}

	if v := str("input"); v != "" {
		rec.Input = json.RawMessage(v)
	}
	if v := str("result"); v != "" {
		rec.Result = json.RawMessage(v)
	}
	if v := str("metadata"); v != "" {
		if err := json.Unmarshal([]byte(v), &rec.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata: %w", err)
		}
	}
	return rec, nil
}

var _ Store = (*DefraStore)(nil)
