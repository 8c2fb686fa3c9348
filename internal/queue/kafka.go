package queue

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"golang.org/x/sync/errgroup"

	"pubpipe/internal/logging"
)

const (
	headerNotBefore  = "not-before"
	headerDeliveries = "deliveries"
)

// Producer is the subset of *kgo.Client used to publish records.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// KafkaOptions configures NewKafka.
type KafkaOptions struct {
	Brokers         []string
	Topic           string
	Group           string
	RedeliveryDelay time.Duration
	Logger          *slog.Logger
}

// Kafka is a Queue backed by a Kafka topic and consumer group.
type Kafka struct {
	client     *kgo.Client
	producer   Producer
	committer  Committer
	offsets    *offsetLedger
	redelivery time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

// Committer is the subset of *kgo.Client used to acknowledge records.
type Committer interface {
	CommitRecords(ctx context.Context, rs ...*kgo.Record) error
}

// NewKafka connects a consumer-group client that also produces to the topic.
func NewKafka(opts KafkaOptions) (*Kafka, error) {
	if len(opts.Brokers) == 0 {
		return nil, errors.New("kafka queue requires at least one broker")
	}
	redelivery := opts.RedeliveryDelay
	if redelivery <= 0 {
		redelivery = DefaultRedeliveryDelay
	}
	k := &Kafka{
		offsets:    newOffsetLedger(),
		redelivery: redelivery,
		logger:     logging.NewComponentLogger(opts.Logger, "queue"),
		now:        time.Now,
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(opts.Brokers...),
		kgo.ConsumerGroup(opts.Group),
		kgo.ConsumeTopics(opts.Topic),
		kgo.AllowAutoTopicCreation(),
		kgo.DisableAutoCommit(),
		kgo.FetchMaxWait(500*time.Millisecond),
		kgo.DefaultProduceTopic(opts.Topic),
		kgo.OnPartitionsRevoked(k.releasePartitions),
		kgo.OnPartitionsLost(k.releasePartitions),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	k.client = client
	k.producer = client
	k.committer = client
	return k, nil
}

// Enqueue implements Queue.
func (k *Kafka) Enqueue(ctx context.Context, msg Message, delay time.Duration) error {
	rec, err := messageToRecord(msg, 0, k.notBefore(delay))
	if err != nil {
		return err
	}
	return k.produce(ctx, rec)
}

func (k *Kafka) produce(ctx context.Context, rec *kgo.Record) error {
	if err := k.producer.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("publish stage message: %w", err)
	}
	return nil
}

func (k *Kafka) notBefore(delay time.Duration) time.Time {
	if delay <= 0 {
		return time.Time{}
	}
	return k.now().Add(delay)
}

// Consume implements Queue. Records are handed to a pool of workers as they
// arrive; a record whose not-before time lies ahead waits on a timer without
// holding up its partition. A partition's offset is only committed up to the
// oldest record that has not been handled or re-published.
func (k *Kafka) Consume(ctx context.Context, workers int, handler Handler) error {
	if workers <= 0 {
		workers = 1
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	work := make(chan *delivery)
	var group errgroup.Group
	for i := 0; i < workers; i++ {
		group.Go(func() error {
			for {
				select {
				case <-runCtx.Done():
					return nil
				case d := <-work:
					k.process(runCtx, d, handler, func(d *delivery) {
						k.schedule(runCtx, work, d, k.redelivery)
					})
				}
			}
		})
	}

	err := k.poll(runCtx, work)
	cancel()
	_ = group.Wait()
	return err
}

func (k *Kafka) poll(ctx context.Context, work chan<- *delivery) error {
	for {
		fetches := k.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return ErrClosed
		}
		if ctx.Err() != nil {
			return nil
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			k.logger.Warn("kafka fetch failed",
				logging.String("topic", topic),
				logging.Int("partition", int(partition)),
				logging.Error(err),
			)
		})
		fetches.EachPartition(func(p kgo.FetchTopicPartition) {
			offsets := k.offsets.partition(p.Topic, p.Partition)
			for _, rec := range p.Records {
				k.submit(ctx, work, offsets.track(rec))
			}
		})
	}
}

// submit hands d to a worker now, or after its not-before time.
func (k *Kafka) submit(ctx context.Context, work chan<- *delivery, d *delivery) {
	if wait := notBeforeOf(d.rec).Sub(k.now()); wait > 0 {
		k.schedule(ctx, work, d, wait)
		return
	}
	select {
	case work <- d:
	case <-ctx.Done():
	}
}

func (k *Kafka) schedule(ctx context.Context, work chan<- *delivery, d *delivery, wait time.Duration) {
	time.AfterFunc(wait, func() {
		select {
		case work <- d:
		case <-ctx.Done():
		}
	})
}

// process runs handler for one record. A failed message is re-published with
// a redelivery delay before its offset is released; when that publish fails
// too the record stays uncommitted and retry is called.
func (k *Kafka) process(ctx context.Context, d *delivery, handler Handler, retry func(*delivery)) {
	msg, deliveries, _, err := recordToMessage(d.rec)
	if err != nil {
		logging.WarnWithContext(k.logger, "dropping malformed stage message", "queue_malformed",
			logging.Int64("offset", d.rec.Offset),
			logging.Error(err),
		)
		k.settle(ctx, d)
		return
	}
	handleErr := handler(ctx, msg)
	if handleErr == nil {
		k.settle(ctx, d)
		return
	}
	if ctx.Err() != nil {
		// Shutdown: the uncommitted record is delivered again later.
		return
	}
	k.logger.Warn("message handling failed; redelivering",
		logging.String("message", msg.String()),
		logging.Int("deliveries", int(deliveries)+1),
		logging.Error(handleErr),
		logging.String(logging.FieldEventType, "queue_redeliver"),
	)
	next, err := messageToRecord(msg, deliveries+1, k.notBefore(k.redelivery))
	if err == nil {
		err = k.produce(ctx, next)
	}
	if err != nil {
		logging.WarnWithContext(k.logger, "could not re-publish stage message; retrying in place", "queue_republish_failed",
			logging.String("message", msg.String()),
			logging.Error(err),
		)
		retry(d)
		return
	}
	k.settle(ctx, d)
}

// settle marks d handled and commits the partition's new watermark, if any.
func (k *Kafka) settle(ctx context.Context, d *delivery) {
	d.offsets.mu.Lock()
	defer d.offsets.mu.Unlock()
	if d.offsets.released {
		return
	}
	commit := d.offsets.finish(d.rec)
	if commit == nil {
		return
	}
	if err := k.committer.CommitRecords(ctx, commit); err != nil {
		k.logger.Warn("kafka commit failed",
			logging.String("topic", commit.Topic),
			logging.Int("partition", int(commit.Partition)),
			logging.Int64("offset", commit.Offset),
			logging.Error(err),
		)
	}
}

func (k *Kafka) releasePartitions(_ context.Context, _ *kgo.Client, partitions map[string][]int32) {
	k.offsets.release(partitions)
}

// Close leaves the consumer group and closes the client.
func (k *Kafka) Close() error {
	if k.client != nil {
		k.client.Close()
	}
	return nil
}

type delivery struct {
	rec     *kgo.Record
	offsets *partitionOffsets
}

type partitionKey struct {
	topic     string
	partition int32
}

// offsetLedger tracks uncommitted records per assigned partition.
type offsetLedger struct {
	mu         sync.Mutex
	partitions map[partitionKey]*partitionOffsets
}

func newOffsetLedger() *offsetLedger {
	return &offsetLedger{partitions: make(map[partitionKey]*partitionOffsets)}
}

func (l *offsetLedger) partition(topic string, partition int32) *partitionOffsets {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := partitionKey{topic: topic, partition: partition}
	p, ok := l.partitions[key]
	if !ok {
		p = &partitionOffsets{done: make(map[int64]bool)}
		l.partitions[key] = p
	}
	return p
}

// release forgets partitions this consumer no longer owns. Records of a
// released partition are never committed here; the new owner reads them
// again from the last commit.
func (l *offsetLedger) release(partitions map[string][]int32) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for topic, ids := range partitions {
		for _, id := range ids {
			key := partitionKey{topic: topic, partition: id}
			if p, ok := l.partitions[key]; ok {
				p.mu.Lock()
				p.released = true
				p.mu.Unlock()
				delete(l.partitions, key)
			}
		}
	}
}

type partitionOffsets struct {
	mu       sync.Mutex
	released bool
	pending  []*kgo.Record
	done     map[int64]bool
}

func (p *partitionOffsets) track(rec *kgo.Record) *delivery {
	p.mu.Lock()
	p.pending = append(p.pending, rec)
	p.mu.Unlock()
	return &delivery{rec: rec, offsets: p}
}

// finish marks rec handled and returns the newest record that every older
// pending record has also finished, or nil. Callers hold p.mu.
func (p *partitionOffsets) finish(rec *kgo.Record) *kgo.Record {
	p.done[rec.Offset] = true
	var last *kgo.Record
	for len(p.pending) > 0 && p.done[p.pending[0].Offset] {
		last = p.pending[0]
		delete(p.done, last.Offset)
		p.pending = p.pending[1:]
	}
	return last
}

func messageToRecord(msg Message, deliveries uint16, notBefore time.Time) (*kgo.Record, error) {
	value, err := Encode(msg)
	if err != nil {
		return nil, err
	}
	headers := make([]kgo.RecordHeader, 0, 2)
	if deliveries > 0 {
		headers = append(headers, kgo.RecordHeader{Key: headerDeliveries, Value: binary.BigEndian.AppendUint16(nil, deliveries)})
	}
	if !notBefore.IsZero() {
		headers = append(headers, kgo.RecordHeader{Key: headerNotBefore, Value: binary.BigEndian.AppendUint64(nil, uint64(notBefore.UnixMilli()))})
	}
	return &kgo.Record{
		Key:     []byte(msg.ReleaseVersionID.String()),
		Value:   value,
		Headers: headers,
	}, nil
}

func recordToMessage(rec *kgo.Record) (msg Message, deliveries uint16, notBefore time.Time, err error) {
	msg, err = Decode(rec.Value)
	if err != nil {
		return Message{}, 0, time.Time{}, err
	}
	for _, h := range rec.Headers {
		if h.Key == headerDeliveries && len(h.Value) == 2 {
			deliveries = binary.BigEndian.Uint16(h.Value)
		}
	}
	return msg, deliveries, notBeforeOf(rec), nil
}

func notBeforeOf(rec *kgo.Record) time.Time {
	for _, h := range rec.Headers {
		if h.Key == headerNotBefore && len(h.Value) == 8 {
			return time.UnixMilli(int64(binary.BigEndian.Uint64(h.Value)))
		}
	}
	return time.Time{}
}
