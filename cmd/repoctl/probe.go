package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/suparena/entityrepo"
	"github.com/suparena/entityrepo/config"
	"github.com/suparena/entityrepo/metrics"
	"github.com/suparena/entityrepo/registry"
	"github.com/suparena/entityrepo/txn"
)

// probeDatabase holds the probe entities, away from application data.
const probeDatabase = "EntityRepoProbe"

// Probe is the entity written by the probe command.
type Probe struct {
	ID        string    `bson:"_id" dynamodbav:"id"`
	Host      string    `bson:"host" dynamodbav:"host"`
	StartedAt time.Time `bson:"startedAt" dynamodbav:"startedAt"`
}

func declareProbe(b *registry.Builder) error {
	return b.Database(probeDatabase, func(s *registry.Scope) {
		registry.Map[Probe](s, "Probes", registry.WithIndex("host", false))
	})
}

// probe runs an insert, a read and a trash of one Probe through the
// transaction runner and reports each step to out.
func probe(ctx context.Context, s config.Settings, m *metrics.Metrics, out io.Writer) error {
	client, err := entityrepo.Open(ctx, s, m, declareProbe)
	if err != nil {
		return err
	}
	defer client.Close(context.WithoutCancel(ctx))

	probes, err := entityrepo.For[Probe](client, "")
	if err != nil {
		return err
	}
	host, _ := os.Hostname()
	p := Probe{Host: host, StartedAt: time.Now().UTC()}

	step := func(name string, fn func() error) error {
		start := time.Now()
		if err := fn(); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		fmt.Fprintf(out, "%-8s ok  %s\n", name, time.Since(start).Round(time.Microsecond))
		return nil
	}

	if err := step("insert", func() error {
		return client.WithTransaction(ctx, func(ctx context.Context, tx txn.Tx) error {
			return probes.In(tx).Insert(ctx, &p)
		})
	}); err != nil {
		return err
	}
	if err := step("get", func() error {
		got, err := probes.Get(ctx, p.ID)
		if err != nil {
			return err
		}
		if got.Host != p.Host {
			return fmt.Errorf("read host %q, wrote %q", got.Host, p.Host)
		}
		return nil
	}); err != nil {
		return err
	}
	if err := step("trash", func() error {
		return probes.Trash(ctx, p.ID, "repoctl probe")
	}); err != nil {
		return err
	}

	fmt.Fprintf(out, "probe %s on %s passed\n", p.ID, client.Driver().Name())
	return nil
}
