package e2e

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/clipbeat/api/internal/auth"
	"github.com/clipbeat/api/internal/handler"
	"github.com/clipbeat/api/internal/middleware"
	"github.com/clipbeat/api/internal/model"
	"github.com/clipbeat/api/internal/service"
	"github.com/clipbeat/api/internal/store"
)

const testJWTSecret = "test-secret-for-e2e"

// testApp holds the components the handler tests poke at directly.
type testApp struct {
	app   *fiber.App
	store *store.Store
	redis *redis.Client
}

// setupApp builds a Fiber app wired like main.go, minus the asynq worker
// server, so submissions enqueue but nothing processes them. Requires a
// local Redis; skips otherwise. Test data lives in DB 15.
func setupApp(t *testing.T) *testApp {
	t.Helper()

	redisClient := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15,
	})

	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	if err := redisClient.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("failed to flush test db: %v", err)
	}
	t.Cleanup(func() { redisClient.Close() })

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr: "localhost:6379",
		DB:   15,
	})
	t.Cleanup(func() { asynqClient.Close() })

	validate := validator.New()

	dataStore := store.New(redisClient)
	scheduler := service.NewScheduler(asynqClient)
	jobService := service.NewJobService(dataStore)
	submissionService := service.NewSubmissionService(dataStore, dataStore, scheduler, 3)
	trendingService := service.NewTrendingService(dataStore)

	jobsHandler := handler.NewJobsHandler(submissionService, jobService, validate)
	trendingHandler := handler.NewTrendingHandler(trendingService)
	authHandler := handler.NewAuthHandler(testJWTSecret)

	authMiddleware := middleware.NewAuthMiddleware(testJWTSecret)
	rateLimiter := middleware.NewRateLimiter(redisClient)

	app := fiber.New(fiber.Config{
		BodyLimit: 1 * 1024 * 1024,
	})

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"timestamp": time.Now().Unix()})
	})
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"downloader":  false,
				"recognition": false,
				"storage":     false,
				"auth":        true,
			},
		})
	})
	app.Get("/auth/verify", authHandler.Verify)

	api := app.Group("/api", authMiddleware.Authenticate())

	// Very high rate limit so tests don't get blocked
	api.Post("/jobs", rateLimiter.SubmitLimit(10000), jobsHandler.Submit)
	api.Get("/jobs", jobsHandler.List)
	api.Get("/jobs/:jobId", jobsHandler.Get)
	api.Get("/me/stats", jobsHandler.Stats)
	api.Put("/me/push-token", rateLimiter.PushTokenLimit(10000), jobsHandler.UpdatePushToken)
	api.Get("/trending", trendingHandler.Top)

	return &testApp{app: app, store: dataStore, redis: redisClient}
}

// seedVeteranUser creates a user past the first-day free window so quota
// rules apply.
func (ta *testApp) seedVeteranUser(t *testing.T, userID string) {
	t.Helper()
	past := time.Now().Add(-72 * time.Hour)
	user := &model.User{
		ID:                     userID,
		Email:                  "test@example.com",
		Tier:                   model.TierFree,
		DailyIdentifiesResetAt: time.Now().Add(-time.Hour),
		FirstDayFreeUsed:       true,
		SignupDate:             past,
		ReferralCode:           "E2ECODE",
		CreatedAt:              past,
	}
	if err := ta.store.SaveUser(context.Background(), user); err != nil {
		t.Fatalf("failed to seed user: %v", err)
	}
}

// generateToken creates an HMAC JWT token for test requests.
func generateToken(t *testing.T, userID string) string {
	t.Helper()
	token, err := auth.GenerateToken(userID, "test@example.com", testJWTSecret, time.Hour)
	if err != nil {
		t.Fatalf("failed to generate test token: %v", err)
	}
	return token
}

// doRequest is a helper to perform HTTP requests against the test app.
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

// doAuthRequest performs an authenticated request.
func doAuthRequest(t *testing.T, app *fiber.App, method, path, body, userID string) (*http.Response, error) {
	t.Helper()
	token := generateToken(t, userID)
	return doRequest(app, method, path, body, map[string]string{
		"Authorization": "Bearer " + token,
	})
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return string(b)
}

// parseJSON parses response body into a map.
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}
