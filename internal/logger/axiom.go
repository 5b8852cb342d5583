package logger

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/axiomhq/axiom-go/axiom"
	"github.com/axiomhq/axiom-go/axiom/ingest"
)

const (
	defaultDataset = "dev_diatomatlas"
	batchSize      = 200
)

// axiomForwarder batches zerolog JSON lines and ships them to an Axiom
// dataset. Debug lines are skipped and the buffer drops events instead of
// blocking log writers.
type axiomForwarder struct {
	client  *axiom.Client
	dataset string
	events  chan axiom.Event
	wg      sync.WaitGroup
	cancel  context.CancelFunc
	done    <-chan struct{}
}

func newAxiomForwarder(token, orgID, dataset string, flushEvery time.Duration) (*axiomForwarder, error) {
	if dataset == "" {
		dataset = defaultDataset
	}
	if flushEvery <= 0 {
		flushEvery = 10 * time.Second
	}

	opts := []axiom.Option{axiom.SetToken(token)}
	if orgID != "" {
		opts = append(opts, axiom.SetOrganizationID(orgID))
	}
	client, err := axiom.NewClient(opts...)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	fw := &axiomForwarder{
		client:  client,
		dataset: dataset,
		events:  make(chan axiom.Event, 1000),
		cancel:  cancel,
		done:    ctx.Done(),
	}
	fw.wg.Add(1)
	go fw.run(flushEvery)
	return fw, nil
}

// Write implements io.Writer for the zerolog multiwriter.
func (f *axiomForwarder) Write(p []byte) (int, error) {
	var ev map[string]interface{}
	if err := json.Unmarshal(p, &ev); err != nil {
		ev = map[string]interface{}{"message": string(p), "level": "info"}
	}
	if lvl, ok := ev["level"].(string); ok && lvl == "debug" {
		return len(p), nil
	}

	ev["service"] = "diatomatlas"
	if _, ok := ev[ingest.TimestampField]; !ok {
		ev[ingest.TimestampField] = time.Now()
	}

	select {
	case f.events <- axiom.Event(ev):
	default:
		// buffer full, drop rather than block the logger
	}
	return len(p), nil
}

func (f *axiomForwarder) run(flushEvery time.Duration) {
	defer f.wg.Done()

	ticker := time.NewTicker(flushEvery)
	defer ticker.Stop()

	batch := make([]axiom.Event, 0, batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		_, _ = f.client.IngestEvents(ctx, f.dataset, batch)
		cancel()
		batch = batch[:0]
	}

	for {
		select {
		case <-f.done:
			flush()
			return
		case <-ticker.C:
			flush()
		case ev := <-f.events:
			batch = append(batch, ev)
			if len(batch) >= batchSize {
				flush()
			}
		}
	}
}

func (f *axiomForwarder) Close() error {
	f.cancel()
	f.wg.Wait()
	return nil
}
