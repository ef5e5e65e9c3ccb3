package redis

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/rueidis"

	"github.com/kailas-cloud/venuesearch/internal/db"
)

// XAdd appends an entry with an auto-generated id.
func (s *Store) XAdd(ctx context.Context, stream string, fields map[string]string) (string, error) {
	args := make([]string, 0, 1+len(fields)*2)
	args = append(args, "*")
	for k, v := range fields {
		args = append(args, k, v)
	}
	cmd := s.b().Arbitrary("XADD").Keys(stream).Args(args...).Build()
	id, err := s.do(ctx, cmd).ToString()
	if err != nil {
		return "", &db.Error{Op: db.OpXAdd, Err: err}
	}
	return id, nil
}

// XGroupCreate creates a consumer group reading from the start of the stream,
// creating the stream if needed.
func (s *Store) XGroupCreate(ctx context.Context, stream, group string) error {
	cmd := s.b().Arbitrary("XGROUP", "CREATE").Keys(stream).Args(group, "0", "MKSTREAM").Build()
	if err := s.do(ctx, cmd).Error(); err != nil {
		if isRedisErr(err, "BUSYGROUP") {
			return db.ErrGroupExists
		}
		return &db.Error{Op: db.OpXGroup, Err: err}
	}
	return nil
}

// XReadGroup delivers up to count new entries to consumer, blocking for at most block.
// A timeout with nothing to deliver returns an empty slice.
func (s *Store) XReadGroup(
	ctx context.Context, stream, group, consumer string, count int64, block time.Duration,
) ([]db.StreamEntry, error) {
	cmd := s.b().Arbitrary("XREADGROUP").
		Args("GROUP", group, consumer,
			"COUNT", strconv.FormatInt(count, 10),
			"BLOCK", strconv.FormatInt(block.Milliseconds(), 10),
			"STREAMS").
		Keys(stream).
		Args(">").
		Blocking()

	streams, err := s.do(ctx, cmd).AsXRead()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return nil, nil
		}
		return nil, &db.Error{Op: db.OpXReadGroup, Err: err}
	}
	return toStreamEntries(streams[stream]), nil
}

// XAutoClaim transfers entries pending longer than minIdle to consumer.
// This is how a crashed worker's unacknowledged jobs become eligible again.
func (s *Store) XAutoClaim(
	ctx context.Context, stream, group, consumer string, minIdle time.Duration, count int64,
) ([]db.StreamEntry, error) {
	cmd := s.b().Arbitrary("XAUTOCLAIM").Keys(stream).
		Args(group, consumer, strconv.FormatInt(minIdle.Milliseconds(), 10), "0-0",
			"COUNT", strconv.FormatInt(count, 10)).
		Build()

	reply, err := s.do(ctx, cmd).ToArray()
	if err != nil {
		return nil, &db.Error{Op: db.OpXAutoClaim, Err: err}
	}
	// [next-cursor, [entries...], [deleted-ids...]]
	if len(reply) < 2 {
		return nil, nil
	}
	entries, err := reply[1].AsXRange()
	if err != nil {
		return nil, &db.Error{Op: db.OpXAutoClaim, Err: err}
	}
	return toStreamEntries(entries), nil
}

// ackDelScript acknowledges entries and removes them from the stream in one
// step, so the stream only ever holds outstanding work.
const ackDelScript = `local n = redis.call("XACK", KEYS[1], ARGV[1], unpack(ARGV, 2))
redis.call("XDEL", KEYS[1], unpack(ARGV, 2))
return n`

// XAckDel acknowledges processed entries and deletes them from the stream.
func (s *Store) XAckDel(ctx context.Context, stream, group string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	cmd := s.b().Arbitrary("EVAL").Args(ackDelScript, "1").Keys(stream).
		Args(append([]string{group}, ids...)...).Build()
	if err := s.do(ctx, cmd).Error(); err != nil {
		return &db.Error{Op: db.OpXAck, Err: err}
	}
	return nil
}

// XRange reads entries between start and end ("-" and "+" for the whole stream).
func (s *Store) XRange(ctx context.Context, stream, start, end string, count int64) ([]db.StreamEntry, error) {
	cmd := s.b().Arbitrary("XRANGE").Keys(stream).
		Args(start, end, "COUNT", strconv.FormatInt(count, 10)).
		Build()
	entries, err := s.do(ctx, cmd).AsXRange()
	if err != nil {
		return nil, &db.Error{Op: db.OpXRange, Err: err}
	}
	return toStreamEntries(entries), nil
}

// XLen returns the stream length.
func (s *Store) XLen(ctx context.Context, stream string) (int64, error) {
	cmd := s.b().Arbitrary("XLEN").Keys(stream).Build()
	n, err := s.do(ctx, cmd).AsInt64()
	if err != nil {
		return 0, &db.Error{Op: db.OpXLen, Err: err}
	}
	return n, nil
}

func toStreamEntries(in []rueidis.XRangeEntry) []db.StreamEntry {
	if len(in) == 0 {
		return nil
	}
	out := make([]db.StreamEntry, 0, len(in))
	for _, e := range in {
		// entries deleted while pending come back with nil fields
		if e.FieldValues == nil {
			continue
		}
		out = append(out, db.StreamEntry{ID: e.ID, Fields: e.FieldValues})
	}
	return out
}
