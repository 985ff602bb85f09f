package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/mark47B/gh-context-cache/app/domain/entity"
	"github.com/mark47B/gh-context-cache/app/infrastructure/transport"
)

// Smoke client: checks cache health over gRPC, then builds one repository
// context twice over HTTP so the second call is served from the cache.
func main() {
	grpcAddr := flag.String("grpc", "localhost:1234", "gRPC address")
	httpAddr := flag.String("http", "http://localhost:8080", "HTTP base URL")
	owner := flag.String("owner", "golang", "repository owner")
	repo := flag.String("repo", "go", "repository name")
	query := flag.String("q", "how is the scheduler implemented", "context query")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	conn, err := grpc.NewClient(*grpcAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		logrus.Fatalf("did not connect: %v", err)
	}
	defer conn.Close()
	health := healthpb.NewHealthClient(conn)

	fmt.Println("=== Step 1: Health ===")
	resp, err := health.Check(ctx, &healthpb.HealthCheckRequest{Service: transport.CacheServiceName})
	if err != nil {
		logrus.Fatalf("health check failed: %v", err)
	}
	fmt.Printf("cache status: %s\n", resp.GetStatus())

	endpoint := fmt.Sprintf("%s/v1/repos/%s/%s/context?q=%s", *httpAddr, *owner, *repo, url.QueryEscape(*query))
	for i := 1; i <= 2; i++ {
		fmt.Printf("=== Step %d: BuildContext ===\n", i+1)
		start := time.Now()
		rc, err := fetchContext(ctx, endpoint)
		if err != nil {
			logrus.Fatalf("build context failed: %v", err)
		}
		fmt.Printf("branch=%s files=%d elapsed=%s\n", rc.Branch, len(rc.Files), time.Since(start))
		for _, f := range rc.Files {
			fmt.Printf("  %s (%d bytes)\n", f.Path, len(f.Content))
		}
	}

	fmt.Println("=== Step 4: ClearRepoCache ===")
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, fmt.Sprintf("%s/v1/repos/%s/%s/cache", *httpAddr, *owner, *repo), nil)
	if err != nil {
		logrus.Fatalf("build request: %v", err)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		logrus.Fatalf("clear cache failed: %v", err)
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(res.Body)
	fmt.Printf("status=%d body=%s\n", res.StatusCode, body)
}

func fetchContext(ctx context.Context, endpoint string) (*entity.RepoContext, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("status %d: %s", res.StatusCode, body)
	}
	var rc entity.RepoContext
	if err := json.NewDecoder(res.Body).Decode(&rc); err != nil {
		return nil, fmt.Errorf("decode context: %w", err)
	}
	return &rc, nil
}
