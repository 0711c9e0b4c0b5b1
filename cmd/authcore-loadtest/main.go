// Command authcore-loadtest measures engine hot paths under concurrency:
// first-factor credential checks and reset-token issue/validate cycles.
// It runs against a real Redis when -redis-addr (or REDIS_ADDR) is set and
// falls back to an embedded miniredis otherwise.
//
// Credential checks are dominated by argon2; the -light flag drops the
// hash parameters to the package floors to measure engine overhead instead
// of KDF cost.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/finchsec/authcore"
	"github.com/finchsec/authcore/password"
	"github.com/finchsec/authcore/store/redisstore"
)

func main() {
	var (
		accounts    = flag.Int("accounts", 100, "number of accounts to seed")
		concurrency = flag.Int("concurrency", 32, "number of concurrent workers")
		ops         = flag.Int("ops", 2000, "operations per phase")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		light       = flag.Bool("light", true, "use floor argon2 parameters")
	)
	flag.Parse()

	if *accounts <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "accounts, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintln(os.Stderr, "miniredis:", err)
			os.Exit(1)
		}
		cleanup = mr.Close
		client = redis.NewClient(&redis.Options{Addr: mr.Addr()})
		fmt.Println("using embedded miniredis")
	} else {
		client = redis.NewClient(&redis.Options{Addr: addr})
		cleanup = func() {}
		fmt.Println("using redis at", addr)
	}
	defer cleanup()

	cfg := authcore.Config{}
	if *light {
		cfg.Password = authcore.PasswordConfig{Memory: 8192, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
	}

	store := redisstore.New(client, "lt")
	engine, err := authcore.New().
		WithConfig(cfg).
		WithRedis(client).
		WithCredentialStore(store).
		Build()
	if err != nil {
		fmt.Fprintln(os.Stderr, "build:", err)
		os.Exit(1)
	}
	defer engine.Close()

	hashCfg := password.HashConfig{Memory: 8192, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
	if !*light {
		hashCfg = password.HashConfig{Memory: 65536, Time: 3, Parallelism: 2, SaltLength: 16, KeyLength: 32}
	}
	hasher, err := password.NewHasher(hashCfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "hasher:", err)
		os.Exit(1)
	}

	fmt.Printf("seeding %d accounts...\n", *accounts)
	emails := make([]string, *accounts)
	ids := make([]string, *accounts)
	hash, err := hasher.Hash("load-test-password-1")
	if err != nil {
		fmt.Fprintln(os.Stderr, "hash:", err)
		os.Exit(1)
	}
	for i := range emails {
		emails[i] = fmt.Sprintf("user%d@loadtest.local", i)
		id, err := store.CreateAccount(ctx, emails[i], hash)
		if err != nil {
			fmt.Fprintln(os.Stderr, "seed:", err)
			os.Exit(1)
		}
		ids[i] = id
	}

	runPhase("credential check", *ops, *concurrency, func(r *rand.Rand) error {
		email := emails[r.Intn(len(emails))]
		result, err := engine.ValidateCredentials(ctx, email, "load-test-password-1")
		if err != nil {
			return err
		}
		if result.Outcome != authcore.OutcomeSuccess {
			return fmt.Errorf("unexpected outcome %s", result.Outcome)
		}
		return nil
	})

	runPhase("reset issue+validate", *ops, *concurrency, func(r *rand.Rand) error {
		id := ids[r.Intn(len(ids))]
		token, err := engine.IssuePasswordResetToken(ctx, id)
		if err != nil {
			return err
		}
		_, err = engine.ValidatePasswordResetToken(ctx, token)
		return err
	})
}

func runPhase(name string, ops, concurrency int, op func(*rand.Rand) error) {
	var (
		wg       sync.WaitGroup
		next     atomic.Int64
		failures atomic.Int64
		mu       sync.Mutex
	)
	latencies := make([]time.Duration, 0, ops)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			r := rand.New(rand.NewSource(seed))
			local := make([]time.Duration, 0, ops/concurrency+1)
			for {
				if next.Add(1) > int64(ops) {
					break
				}
				t0 := time.Now()
				if err := op(r); err != nil {
					failures.Add(1)
				}
				local = append(local, time.Since(t0))
			}
			mu.Lock()
			latencies = append(latencies, local...)
			mu.Unlock()
		}(int64(w) + 1)
	}
	wg.Wait()
	elapsed := time.Since(start)

	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	fmt.Printf("%s: %d ops in %v (%.0f ops/s), failures=%d\n",
		name, len(latencies), elapsed.Round(time.Millisecond),
		float64(len(latencies))/elapsed.Seconds(), failures.Load())
	if len(latencies) > 0 {
		fmt.Printf("  p50=%v p95=%v p99=%v max=%v\n",
			pct(latencies, 50), pct(latencies, 95), pct(latencies, 99), latencies[len(latencies)-1])
	}
}

func pct(sorted []time.Duration, p int) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := len(sorted) * p / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
