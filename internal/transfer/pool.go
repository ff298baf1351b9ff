// Package transfer implements the Data Provider collaborator of spec §6:
// askForTransfer pulls a renaming onto the local worker from any of
// param.Sources, over a bounded pool of transfer workers (spec §5: "a
// pool of transfer workers, bounded, default = min(#cores, 8)").
package transfer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/compsweave/taskrt/internal/datamanager"
	"github.com/compsweave/taskrt/internal/datamodel"
)

// job is one queued transfer request.
type job struct {
	param    *datamodel.Param
	idx      int
	listener datamanager.Listener
}

// Provider is an HTTP-pull Data Provider collaborator: each source worker
// exposes its local registers over HTTP (served by internal/api), and
// Provider pulls bytes from the first reachable source, falling through
// param.Sources in order on failure.
type Provider struct {
	client       *http.Client
	log          *zap.Logger
	workspaceDir string
	jobs         chan job
	done         chan struct{}
}

var _ datamanager.TransferProvider = (*Provider)(nil)

// Options configures a Provider.
type Options struct {
	WorkspaceDir string
	Parallelism  int // 0 selects min(runtime.NumCPU(), 8)
	Timeout      time.Duration
}

// New starts a Provider with its bounded worker pool.
func New(opts Options, log *zap.Logger) *Provider {
	parallelism := opts.Parallelism
	if parallelism <= 0 {
		parallelism = runtime.NumCPU()
		if parallelism > 8 {
			parallelism = 8
		}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	p := &Provider{
		client:       &http.Client{Timeout: timeout},
		log:          log,
		workspaceDir: opts.WorkspaceDir,
		jobs:         make(chan job, parallelism*4),
		done:         make(chan struct{}),
	}
	for i := 0; i < parallelism; i++ {
		go p.worker()
	}
	return p
}

// Close stops the worker pool. Queued jobs are dropped.
func (p *Provider) Close() {
	close(p.done)
}

// AskForTransfer enqueues a pull of param.ReadDII from param.Sources,
// implementing spec §6's Data Provider collaborator contract.
func (p *Provider) AskForTransfer(param *datamodel.Param, idx int, listener datamanager.Listener) {
	select {
	case p.jobs <- job{param: param, idx: idx, listener: listener}:
	case <-p.done:
		listener.ErrorFetchingValue(param.ReadDII, datamodel.KindTransfer)
	}
}

func (p *Provider) worker() {
	for {
		select {
		case <-p.done:
			return
		case j := <-p.jobs:
			p.run(j)
		}
	}
}

func (p *Provider) run(j job) {
	dii := j.param.ReadDII
	if len(j.param.Sources) == 0 {
		j.listener.ErrorFetchingValue(dii, datamodel.KindDependency)
		return
	}

	for _, src := range j.param.Sources {
		if err := p.pullFrom(dii, src); err != nil {
			p.log.Warn("transfer source failed, trying next", zap.String("renaming", string(dii)), zap.String("worker_id", src.WorkerID), zap.Error(err))
			continue
		}
		j.listener.FetchedValue(dii)
		return
	}

	// Every known source failed: spec §4.5's NoSourcesException, reported
	// as a retriable TransferError so the scheduler may reschedule against
	// a refreshed source list rather than failing the task outright.
	j.listener.ErrorFetchingValue(dii, datamodel.KindTransfer)
}

func (p *Provider) pullFrom(dii datamodel.DII, src datamodel.SourceLocation) error {
	ctx, cancel := context.WithTimeout(context.Background(), p.client.Timeout)
	defer cancel()

	url := fmt.Sprintf("http://%s/v1/data/%s", src.WorkerID, dii)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("source %s returned status %d for %s", src.WorkerID, resp.StatusCode, dii)
	}

	target := filepath.Join(p.workspaceDir, string(dii))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	out, err := os.Create(target)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, resp.Body); err != nil {
		return err
	}
	return out.Sync()
}
