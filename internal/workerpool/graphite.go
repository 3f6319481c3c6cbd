package workerpool

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/moira-alert/moira/common"
)

const graphiteDialTimeout = 10 * time.Second

// graphiteReplica is one plaintext-protocol Graphite endpoint in a
// round-robin cluster (graphite.py's GraphiteReplica): it lazily dials and
// remembers its connection across sends; after a failure it dials again on
// the next send, each dial bounded by a 10s timeout.
type graphiteReplica struct {
	addr string
	conn net.Conn
}

func (r *graphiteReplica) connected() bool {
	return r.conn != nil
}

func (r *graphiteReplica) connect() error {
	conn, err := net.DialTimeout("tcp", r.addr, graphiteDialTimeout)
	if err != nil {
		return err
	}
	r.conn = conn
	return nil
}

func (r *graphiteReplica) send(lines string) error {
	_, err := r.conn.Write([]byte(lines))
	if err != nil {
		r.conn.Close()
		r.conn = nil
	}
	return err
}

// graphiteCluster round-robins self-metrics across replicas, matching
// graphite.py's GraphiteClusterClient: a send failure advances to the next
// replica instead of giving up, and the index is sticky between calls so
// load is spread rather than always hammering the first host.
type graphiteCluster struct {
	replicas []*graphiteReplica
	index    int
	prefix   string
	log      *common.ContextLogger
}

func newGraphiteCluster(addrs []string, prefix string) *graphiteCluster {
	replicas := make([]*graphiteReplica, len(addrs))
	for i, a := range addrs {
		replicas[i] = &graphiteReplica{addr: a}
	}
	return &graphiteCluster{
		replicas: replicas,
		prefix:   prefix,
		log:      common.NewContextLogger(common.Logger, map[string]interface{}{"component": "graphite-exporter"}),
	}
}

// send renders metrics as Graphite plaintext lines and ships them to the
// next healthy replica, trying every replica once before giving up.
func (c *graphiteCluster) send(metrics map[string]float64) {
	if len(c.replicas) == 0 {
		return
	}

	var b strings.Builder
	ts := time.Now().Unix()
	for name, value := range metrics {
		fmt.Fprintf(&b, "%s.%s %v %d\n", c.prefix, name, value, ts)
	}
	payload := b.String()

	start := c.index
	for {
		r := c.replicas[c.index]
		if !r.connected() {
			if err := r.connect(); err != nil {
				c.log.WithError(err).WithField("replica", r.addr).Warn("Failed to connect to graphite replica")
				c.advance()
				if c.index == start {
					c.log.Error("No graphite replica reachable, dropping self-metrics")
					return
				}
				continue
			}
		}
		if err := r.send(payload); err != nil {
			c.log.WithError(err).WithField("replica", r.addr).Warn("Failed to send self-metrics")
			c.advance()
			if c.index == start {
				return
			}
			continue
		}
		c.advance()
		return
	}
}

func (c *graphiteCluster) advance() {
	c.index = (c.index + 1) % len(c.replicas)
}

// runSelfMetricsExport periodically flushes getMetrics() to the cluster
// until ctx is cancelled, mirroring graphite.py's sending()+LoopingCall.
func runSelfMetricsExport(ctx context.Context, cluster *graphiteCluster, interval time.Duration, getMetrics func() map[string]float64) {
	if cluster == nil || len(cluster.replicas) == 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cluster.send(getMetrics())
		}
	}
}
