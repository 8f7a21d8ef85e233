package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	vh "github.com/tckz/vegetahelper"
	vegeta "github.com/tsenart/vegeta/v12/lib"
	"go.uber.org/zap"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/idtoken"

	"github.com/tckz/tally-counter/internal/log"
	"github.com/tckz/tally-counter/internal/server"
	"github.com/tckz/tally-counter/internal/tally"
)

var (
	myName  = filepath.Base(os.Args[0])
	logger  *zap.SugaredLogger
	version string
)

var (
	optRate = &vh.RateFlag{
		Rate: &vegeta.Rate{
			Freq: 30,
			Per:  1 * time.Second,
		}}
	optDuration = flag.Duration("duration", 10*time.Second, "Duration of the test [0 = forever]")
	optOutput   = flag.String("output", "", "/path/to/results.bin or 'stdout'")
	optWorkers  = flag.Uint64("workers", vegeta.DefaultWorkers, "Number of workers")
	optLogLevel = flag.String("log-level", "info", "info|warn|error")
	optURL      = flag.String("url", "http://localhost:8080/", "URL of tally-server")
	optAudience = flag.String("audience", "", "attach an ID token for this audience (Cloud Run, IAP)")
	optScope    = flag.String("scope", "", "attach an OAuth2 access token for this scope instead")
	optTimeout  = flag.Duration("timeout", 10*time.Second, "timeout of each request")
)

func init() {
	godotenv.Load()

	flag.Var(optRate, "rate", "Number of requests per time unit")
	flag.Parse()

	logger = log.Must(log.NewLogger(log.WithLogLevel(*optLogLevel))).Sugar().With(zap.String("app", myName))
}

type nopWriteCloser struct {
	io.Writer
}

func (c nopWriteCloser) Close() error {
	return nil
}

func openResultFile(out string) (io.WriteCloser, error) {
	switch out {
	case "":
		return &nopWriteCloser{io.Discard}, nil
	case "stdout":
		return &nopWriteCloser{os.Stdout}, nil
	default:
		return os.Create(out)
	}
}

// newHTTPClient picks credentials from GOOGLE_APPLICATION_CREDENTIALS and
// friends. An ID token needs a service account.
func newHTTPClient(ctx context.Context) (*http.Client, error) {
	var cl *http.Client
	switch {
	case *optAudience != "":
		c, err := idtoken.NewClient(ctx, *optAudience)
		if err != nil {
			return nil, fmt.Errorf("idtoken.NewClient: %w", err)
		}
		cl = c
	case *optScope != "":
		c, err := google.DefaultClient(ctx, *optScope)
		if err != nil {
			return nil, fmt.Errorf("google.DefaultClient: %w", err)
		}
		cl = c
	default:
		cl = &http.Client{}
	}
	cl.Timeout = *optTimeout
	return cl, nil
}

func actionURL(base, action string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("url.Parse: %w", err)
	}
	q := u.Query()
	q.Set("action", action)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func call(ctx context.Context, cl *http.Client, u string) (tally.Record, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return tally.Record{}, fmt.Errorf("http.NewRequest: %w", err)
	}
	req.Header.Set("X-Request-Id", uuid.New().String())

	res, err := cl.Do(req)
	if err != nil {
		return tally.Record{}, fmt.Errorf("cl.Do: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return tally.Record{}, fmt.Errorf("status=%d, body=%s", res.StatusCode, b)
	}

	var rec tally.Record
	if err := json.NewDecoder(res.Body).Decode(&rec); err != nil {
		return tally.Record{}, fmt.Errorf("json.Decode: %w", err)
	}
	if err := rec.Validate(); err != nil {
		return tally.Record{}, fmt.Errorf("rec.Validate: %w", err)
	}
	return rec, nil
}

func main() {
	logger.Infof("ver=%s, args=%s", version, os.Args)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cl, err := newHTTPClient(ctx)
	if err != nil {
		logger.Fatalf("*** %v", err)
	}
	getURL, err := actionURL(*optURL, server.ActionGet)
	if err != nil {
		logger.Fatalf("*** %v", err)
	}
	incURL, err := actionURL(*optURL, server.ActionInc)
	if err != nil {
		logger.Fatalf("*** %v", err)
	}

	before, err := call(ctx, cl, getURL)
	if err != nil {
		logger.Fatalf("*** get before attack: %v", err)
	}
	logger.Infof("before: total=%s", humanize.Comma(before.Total))

	atk := vh.NewAttacker(func(ctx context.Context) (result *vh.HitResult, retErr error) {
		if _, err := call(ctx, cl, incURL); err != nil {
			return nil, err
		}
		return result, nil
	}, vh.WithWorkers(*optWorkers))
	res := atk.Attack(ctx, *optRate.Rate, *optDuration, "inc")

	out, err := openResultFile(*optOutput)
	if err != nil {
		logger.Fatal(err)
	}
	defer out.Close()
	enc := vegeta.NewEncoder(out)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	var metrics vegeta.Metrics
	var succeeded int64
loop:
	for {
		select {
		case s := <-sig:
			logger.Infof("Received signal: %s", s)
			cancel()
			// keep loop until 'res' is closed.
		case r, ok := <-res:
			if !ok {
				break loop
			}
			metrics.Add(r)
			if r.Error == "" {
				succeeded++
			}
			if err := enc.Encode(r); err != nil {
				logger.Errorf("*** Encode: %v", err)
				break loop
			}
		}
	}
	metrics.Close()

	logger.Infof("requests=%s, success=%.2f%%, p50=%s, p99=%s",
		humanize.Comma(int64(metrics.Requests)), metrics.Success*100, metrics.Latencies.P50, metrics.Latencies.P99)

	vctx, vcancel := context.WithTimeout(context.Background(), *optTimeout)
	defer vcancel()
	after, err := call(vctx, cl, getURL)
	if err != nil {
		logger.Fatalf("*** get after attack: %v", err)
	}

	delta := after.Total - before.Total
	logger.Infof("after: total=%s, delta=%s, succeeded=%s",
		humanize.Comma(after.Total), humanize.Comma(delta), humanize.Comma(succeeded))
	if delta != succeeded {
		// Other clients hitting the same counter also show up here.
		logger.Errorf("*** delta does not match succeeded hits: delta=%d, succeeded=%d", delta, succeeded)
		out.Close()
		os.Exit(1)
	}
}
