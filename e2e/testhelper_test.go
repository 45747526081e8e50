package e2e

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/draftforge/api/internal/client"
	"github.com/draftforge/api/internal/config"
	"github.com/draftforge/api/internal/handler"
	"github.com/draftforge/api/internal/middleware"
	"github.com/draftforge/api/internal/model"
	"github.com/draftforge/api/internal/orchestrator"
	"github.com/draftforge/api/internal/queue"
	"github.com/draftforge/api/internal/store"
	"github.com/draftforge/api/internal/worker"
	ws "github.com/draftforge/api/internal/websocket"
)

const testJWTSecret = "test-secret-for-e2e"

// scriptedOracle replays canned completions in order.
type scriptedOracle struct {
	mu        sync.Mutex
	responses []string
}

func (o *scriptedOracle) Evaluate(_ context.Context, _ []client.ChatMessage, _ client.CompletionOptions) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.responses) == 0 {
		return "", &client.OracleError{Status: 503, Err: io.EOF}
	}
	resp := o.responses[0]
	o.responses = o.responses[1:]
	return resp, nil
}

type testApp struct {
	app       *fiber.App
	sessions  store.Sessions
	artifacts store.Artifacts
	queue     *queue.Queue
	auth      *middleware.AuthMiddleware
}

// setupApp wires the same stack as main, backed by miniredis, with worker
// pools polling fast and the oracle replaced by a script.
func setupApp(t *testing.T, oracle client.Oracle) *testApp {
	t.Helper()

	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { redisClient.Close() })

	validate := validator.New()
	sessions := store.NewRedisSessions(redisClient)
	artifacts := store.NewRedisArtifacts(redisClient)
	jobQueue := queue.New(redisClient, queue.Retention{})
	queueOpts := queue.DefaultOptions()

	authMiddleware := middleware.NewAuthMiddleware(&config.JWTConfig{
		Secret:     testJWTSecret,
		Expiration: 1,
		WSTokenTTL: 60,
	})
	rateLimiter := middleware.NewRateLimiter(redisClient)
	hub := ws.NewHub(authMiddleware.VerifyWSToken)
	pipeline := orchestrator.New(sessions, artifacts, jobQueue, hub, queueOpts)

	poolCfg := config.PoolConfig{
		Concurrency:     2,
		MaxOpsPerWindow: 1000,
		Window:          time.Second,
		PollInterval:    5 * time.Millisecond,
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	pools := []*worker.Pool{
		worker.NewPool(model.QueueSourceIngestion, jobQueue, poolCfg,
			worker.NewSourceWorker(sessions, hub), hub),
		worker.NewPool(model.QueuePlanGeneration, jobQueue, poolCfg,
			worker.NewPlanWorker(sessions, artifacts, jobQueue, oracle, hub, queueOpts), hub),
		worker.NewPool(model.QueueOutlineGeneration, jobQueue, poolCfg,
			worker.NewOutlineWorker(sessions, artifacts, jobQueue, oracle, hub, queueOpts), hub),
		worker.NewPool(model.QueueContentGeneration, jobQueue, poolCfg,
			worker.NewContentWorker(sessions, artifacts, jobQueue, oracle, hub, queueOpts), hub),
		worker.NewPool(model.QueueCriticReview, jobQueue, poolCfg,
			worker.NewCriticWorker(sessions, artifacts, oracle, hub), hub),
	}
	for _, pool := range pools {
		go pool.Run(ctx)
	}

	sessionHandler := handler.NewSessionHandler(pipeline, sessions, validate)
	generationHandler := handler.NewGenerationHandler(pipeline, artifacts, jobQueue, validate)
	wsHandler := handler.NewWSHandler(authMiddleware)

	app := fiber.New()

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api", authMiddleware.Authenticate())
	api.Post("/ws-token", wsHandler.Token)

	sessionsGroup := api.Group("/sessions")
	sessionsGroup.Post("/", sessionHandler.Create)
	sessionsGroup.Get("/:id", sessionHandler.Get)
	sessionsGroup.Put("/:id", sessionHandler.Update)
	sessionsGroup.Post("/:id/advance", sessionHandler.Advance)
	sessionsGroup.Post("/:id/back", sessionHandler.Back)
	sessionsGroup.Post("/:id/sources", rateLimiter.SourceLimit(100), sessionHandler.AddSource)
	sessionsGroup.Post("/:id/generate/:type", rateLimiter.GenerateLimit(100), generationHandler.Start)
	sessionsGroup.Post("/:id/artifacts/:artifactId/approve", generationHandler.Approve)
	sessionsGroup.Get("/:id/artifacts/:type/latest", generationHandler.Latest)

	api.Get("/artifacts/:id", generationHandler.Get)
	api.Get("/queues/:queue/jobs/:jobId", generationHandler.JobStatus)
	api.Get("/queues/:queue/dead", generationHandler.DeadLetters)

	return &testApp{
		app:       app,
		sessions:  sessions,
		artifacts: artifacts,
		queue:     jobQueue,
		auth:      authMiddleware,
	}
}

func generateToken(t *testing.T, ta *testApp) string {
	t.Helper()
	token, err := ta.auth.GenerateToken("test-user-123", "test@example.com")
	if err != nil {
		t.Fatalf("failed to generate test token: %v", err)
	}
	return token
}

func doRequest(app *fiber.App, method, path string, body string, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		return nil, err
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return app.Test(req, -1)
}

func doAuthRequest(t *testing.T, ta *testApp, method, path, body string) (*http.Response, error) {
	t.Helper()
	token := generateToken(t, ta)
	return doRequest(ta.app, method, path, body, map[string]string{
		"Authorization": "Bearer " + token,
	})
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return string(b)
}

func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Fatalf("expected status %d, got %d", expected, resp.StatusCode)
	}
}

// waitForArtifactStatus polls the store until the artifact reaches the
// wanted status.
func waitForArtifactStatus(t *testing.T, ta *testApp, artifactID string, want model.ArtifactStatus) *model.Artifact {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		artifact, err := ta.artifacts.Get(context.Background(), artifactID)
		if err == nil && artifact.Status == want {
			return artifact
		}
		time.Sleep(5 * time.Millisecond)
	}
	artifact, err := ta.artifacts.Get(context.Background(), artifactID)
	t.Fatalf("artifact %s never reached %s (now %+v, err %v)", artifactID, want, artifact, err)
	return nil
}
