package handlers

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/how2validate/apiserver/internal/auth"
	"github.com/how2validate/apiserver/internal/config"
	"github.com/how2validate/apiserver/internal/mail"
	"github.com/how2validate/apiserver/internal/models"
	"github.com/how2validate/apiserver/internal/quota"
	"github.com/how2validate/apiserver/internal/report"
	"github.com/how2validate/apiserver/internal/token"
	"github.com/how2validate/apiserver/internal/usage"
	"github.com/how2validate/apiserver/internal/validator"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// harness bundles the wired components and router for one test.
type harness struct {
	db         *gorm.DB
	sessions   *auth.Sessions
	tokens     *token.Manager
	usage      *usage.Accumulator
	decryptor  *report.Decryptor
	privateKey *rsa.PrivateKey
	router     *gin.Engine
}

func newHarness(t *testing.T, mailURL string) *harness {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, errOpen := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	errMigrate := db.AutoMigrate(&models.User{}, &models.PersonalAccessToken{}, &models.ValidationRecord{})
	if errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}

	key, errKey := rsa.GenerateKey(rand.Reader, 2048)
	if errKey != nil {
		t.Fatalf("generate rsa key: %v", errKey)
	}
	privDER, errPriv := x509.MarshalPKCS8PrivateKey(key)
	if errPriv != nil {
		t.Fatalf("marshal private key: %v", errPriv)
	}
	pubDER, errPub := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if errPub != nil {
		t.Fatalf("marshal public key: %v", errPub)
	}
	decryptor, errDecryptor := report.NewDecryptor(config.KeysConfig{
		PrivateKeyPEM: string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER})),
		PublicKeyPEM:  string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})),
	})
	if errDecryptor != nil {
		t.Fatalf("new decryptor: %v", errDecryptor)
	}

	sessions := auth.NewSessions(config.SessionConfig{Secret: "test-secret", Expiry: time.Hour})
	tokens := token.NewManager(db)
	guard := quota.NewGuard(db)
	acc := usage.NewAccumulator(db)
	mailer := mail.NewClient(config.MailConfig{
		URL:         mailURL,
		Token:       "test-token",
		TemplateKey: "tmpl",
		FromEmail:   "noreply@example.com",
		FromName:    "How2Validate",
	})

	router := gin.New()
	apiGroup := router.Group("/api")

	authHandler := NewAuthHandler(db, sessions)
	apiGroup.POST("/auth/signin", authHandler.SignIn)

	session := apiGroup.Group("")
	session.Use(SessionAuthMiddleware(db, sessions))
	tokenHandler := NewTokenHandler(tokens)
	session.POST("/tokens/generate", tokenHandler.Generate)
	session.GET("/tokens/:userId", tokenHandler.List)
	session.POST("/tokens/:userId", tokenHandler.Upsert)
	session.DELETE("/tokens/:userId", tokenHandler.Delete)
	userInfoHandler := NewUserInfoHandler(guard)
	session.GET("/userinfo", userInfoHandler.UserInfo)
	session.GET("/check-threshold", userInfoHandler.CheckThreshold)

	bearer := apiGroup.Group("")
	bearer.Use(TokenAuthMiddleware(tokens))
	accountHandler := NewAccountHandler(guard, acc, decryptor)
	bearer.GET("/me", accountHandler.Me)
	bearer.GET("/validate", accountHandler.Validate)
	bearer.GET("/public-key", accountHandler.PublicKey)
	reportHandler := NewReportHandler(guard, acc, decryptor, mailer)
	bearer.POST("/report", reportHandler.Report)
	secretsHandler := NewSecretsHandler(validator.NewDispatcher(db, nil), acc)
	bearer.POST("/secrets/validate", secretsHandler.Validate)
	bearer.GET("/secrets/services", secretsHandler.Services)

	return &harness{
		db:         db,
		sessions:   sessions,
		tokens:     tokens,
		usage:      acc,
		decryptor:  decryptor,
		privateKey: key,
		router:     router,
	}
}

func (h *harness) do(t *testing.T, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, errMarshal := json.Marshal(body)
		if errMarshal != nil {
			t.Fatalf("marshal body: %v", errMarshal)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func (h *harness) seedUser(t *testing.T) models.User {
	t.Helper()
	now := time.Now().UTC()
	user := models.User{
		ExternalID: "gh-" + t.Name(),
		Username:   "tester",
		Email:      "tester@example.com",
		Subscription: models.Subscription{
			Plan:                 "Pro-Free",
			APIThreshold:         5,
			EmailPerDayThreshold: 10,
			ExpiresAt:            now.AddDate(1, 0, 0),
		},
		IsActive:     true,
		LastLoggedIn: now,
		ExpiresAt:    now.AddDate(1, 0, 0),
	}
	if err := h.db.Create(&user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return user
}

func (h *harness) session(t *testing.T, user models.User) string {
	t.Helper()
	session, errIssue := h.sessions.Issue(user.ID, user.ExternalID)
	if errIssue != nil {
		t.Fatalf("issue session: %v", errIssue)
	}
	return session
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return body
}

func TestSignIn_UpsertsUserAndIssuesSession(t *testing.T) {
	h := newHarness(t, "")

	rec := h.do(t, http.MethodPost, "/api/auth/signin", "", map[string]any{
		"external_id": "gh-1001",
		"username":    "octocat",
		"email":       "octocat@example.com",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	session, _ := body["session"].(string)
	if session == "" {
		t.Fatal("no session token returned")
	}
	if _, errParse := h.sessions.Parse(session); errParse != nil {
		t.Fatalf("returned session does not verify: %v", errParse)
	}

	// Second sign-in updates the profile in place.
	rec = h.do(t, http.MethodPost, "/api/auth/signin", "", map[string]any{
		"external_id": "gh-1001",
		"username":    "octocat-renamed",
		"email":       "octocat@example.com",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("second sign-in status = %d", rec.Code)
	}

	var count int64
	if err := h.db.Model(&models.User{}).Where("external_id = ?", "gh-1001").Count(&count).Error; err != nil {
		t.Fatalf("count users: %v", err)
	}
	if count != 1 {
		t.Fatalf("user rows = %d, want 1", count)
	}
	var user models.User
	if err := h.db.Where("external_id = ?", "gh-1001").Take(&user).Error; err != nil {
		t.Fatalf("load user: %v", err)
	}
	if user.Username != "octocat-renamed" {
		t.Fatalf("username = %q, want updated profile", user.Username)
	}
}

func TestSignIn_RejectsMissingIdentity(t *testing.T) {
	h := newHarness(t, "")
	rec := h.do(t, http.MethodPost, "/api/auth/signin", "", map[string]any{"username": "x"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestSessionEndpoints_AuthFailures(t *testing.T) {
	h := newHarness(t, "")

	rec := h.do(t, http.MethodPost, "/api/tokens/generate", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing header status = %d, want 401", rec.Code)
	}

	rec = h.do(t, http.MethodPost, "/api/tokens/generate", "not-a-session", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("bad session status = %d, want 403", rec.Code)
	}
}

func TestTokenGenerate_ReturnsSecretAndDigest(t *testing.T) {
	h := newHarness(t, "")
	user := h.seedUser(t)

	rec := h.do(t, http.MethodPost, "/api/tokens/generate", h.session(t, user), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	plaintext, _ := body["token"].(string)
	digest, _ := body["token_hash"].(string)
	if !strings.HasPrefix(plaintext, "h2v-") {
		t.Fatalf("token = %q, want h2v- prefix", plaintext)
	}
	if token.Digest(plaintext) != digest {
		t.Fatal("token_hash does not match the returned secret")
	}
}

func TestTokenEndpoints_RejectForeignUser(t *testing.T) {
	h := newHarness(t, "")
	user := h.seedUser(t)
	session := h.session(t, user)

	path := fmt.Sprintf("/api/tokens/%d", user.ID+1)
	rec := h.do(t, http.MethodGet, path, session, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestTokenLifecycleOverHTTP(t *testing.T) {
	h := newHarness(t, "")
	user := h.seedUser(t)
	session := h.session(t, user)
	path := fmt.Sprintf("/api/tokens/%d", user.ID)

	digest := token.Digest("h2v-lifecycle-secret")
	rec := h.do(t, http.MethodPost, path, session, map[string]any{
		"token_name":  "ci",
		"token_hash":  digest,
		"token_email": "ci@example.com",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = h.do(t, http.MethodGet, path, session, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "\"ci\"") {
		t.Fatalf("list body missing token: %s", rec.Body.String())
	}

	var user2 models.User
	if err := h.db.First(&user2, user.ID).Error; err != nil {
		t.Fatalf("reload user: %v", err)
	}
	if user2.Usage.ActiveAPICount != 1 {
		t.Fatalf("active count = %d, want 1", user2.Usage.ActiveAPICount)
	}

	rec = h.do(t, http.MethodDelete, path, session, map[string]any{"token_hash": digest})
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}
	rec = h.do(t, http.MethodDelete, path, session, map[string]any{"token_hash": digest})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("repeat delete status = %d, want 404", rec.Code)
	}
}

func TestTokenUpsert_QuotaExceeded(t *testing.T) {
	h := newHarness(t, "")
	user := h.seedUser(t)
	if err := h.db.Model(&models.User{}).Where("id = ?", user.ID).
		Update("usage_active_api_count", user.Subscription.APIThreshold).Error; err != nil {
		t.Fatalf("set active count: %v", err)
	}

	rec := h.do(t, http.MethodPost, fmt.Sprintf("/api/tokens/%d", user.ID), h.session(t, user), map[string]any{
		"token_name":  "over",
		"token_hash":  token.Digest("h2v-over-quota"),
		"token_email": "ci@example.com",
	})
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
}

func TestMe_CountsUsageAndHidesHashes(t *testing.T) {
	h := newHarness(t, "")
	user := h.seedUser(t)
	row, plaintext, errCreate := h.tokens.Create(context.Background(), user.ID, "ci", "ci@example.com")
	if errCreate != nil {
		t.Fatalf("create token: %v", errCreate)
	}

	rec := h.do(t, http.MethodGet, "/api/me", plaintext, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), row.TokenHash) {
		t.Fatal("response leaks token_hash")
	}
	if !strings.Contains(rec.Body.String(), "\"tester\"") {
		t.Fatalf("response missing profile: %s", rec.Body.String())
	}

	var reloaded models.PersonalAccessToken
	if err := h.db.Where("token_hash = ?", row.TokenHash).Take(&reloaded).Error; err != nil {
		t.Fatalf("reload token: %v", err)
	}
	if reloaded.UsageCount != 1 || reloaded.DayAPI != 1 || reloaded.TotalAPI != 1 {
		t.Fatalf("counters = %d/%d/%d, want 1/1/1", reloaded.UsageCount, reloaded.DayAPI, reloaded.TotalAPI)
	}
}

func TestBearerEndpoints_AuthFailures(t *testing.T) {
	h := newHarness(t, "")

	rec := h.do(t, http.MethodGet, "/api/me", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing header status = %d, want 401", rec.Code)
	}
	rec = h.do(t, http.MethodGet, "/api/me", "h2v-unknown-secret", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("unknown token status = %d, want 403", rec.Code)
	}
}

func TestValidate_ReportsThresholdStatus(t *testing.T) {
	h := newHarness(t, "")
	user := h.seedUser(t)
	_, plaintext, errCreate := h.tokens.Create(context.Background(), user.ID, "ci", "ci@example.com")
	if errCreate != nil {
		t.Fatalf("create token: %v", errCreate)
	}

	rec := h.do(t, http.MethodGet, "/api/validate", plaintext, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["valid"] != true || body["under_email_threshold"] != true {
		t.Fatalf("body = %v", body)
	}
}

func TestPublicKey_ReturnsPEM(t *testing.T) {
	h := newHarness(t, "")
	user := h.seedUser(t)
	_, plaintext, errCreate := h.tokens.Create(context.Background(), user.ID, "ci", "ci@example.com")
	if errCreate != nil {
		t.Fatalf("create token: %v", errCreate)
	}

	rec := h.do(t, http.MethodGet, "/api/public-key", plaintext, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if pemValue, _ := body["public_key"].(string); !strings.Contains(pemValue, "BEGIN PUBLIC KEY") {
		t.Fatalf("public_key = %q", pemValue)
	}
}

// sealEnvelope encrypts a payload the way a reporting client does.
func sealEnvelope(t *testing.T, pub *rsa.PublicKey, plaintext []byte) report.Envelope {
	t.Helper()

	aesKey := make([]byte, 32)
	if _, err := rand.Read(aesKey); err != nil {
		t.Fatalf("aes key: %v", err)
	}
	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		t.Fatalf("iv: %v", err)
	}

	padLen := aes.BlockSize - len(plaintext)%aes.BlockSize
	padded := make([]byte, len(plaintext)+padLen)
	copy(padded, plaintext)
	for i := len(plaintext); i < len(padded); i++ {
		padded[i] = byte(padLen)
	}

	block, errCipher := aes.NewCipher(aesKey)
	if errCipher != nil {
		t.Fatalf("cipher: %v", errCipher)
	}
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	wrapped, errWrap := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, aesKey, nil)
	if errWrap != nil {
		t.Fatalf("wrap key: %v", errWrap)
	}
	return report.Envelope{
		Key:  base64.StdEncoding.EncodeToString(wrapped),
		IV:   base64.StdEncoding.EncodeToString(iv),
		Data: base64.StdEncoding.EncodeToString(ciphertext),
	}
}

func TestReport_RoundTrip(t *testing.T) {
	received := make(chan map[string]any, 1)
	mailSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode mail payload: %v", err)
		}
		received <- payload
		w.WriteHeader(http.StatusCreated)
	}))
	defer mailSrv.Close()

	h := newHarness(t, mailSrv.URL)
	user := h.seedUser(t)
	row, plaintext, errCreate := h.tokens.Create(context.Background(), user.ID, "ci", "notify@example.com")
	if errCreate != nil {
		t.Fatalf("create token: %v", errCreate)
	}

	env := sealEnvelope(t, &h.privateKey.PublicKey, []byte(`{"service":"github_personal_access_token","state":"Active"}`))
	rec := h.do(t, http.MethodPost, "/api/report", plaintext, env)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	select {
	case payload := <-received:
		merge, _ := payload["merge_info"].(map[string]any)
		if merge["secret_state"] != "Active" {
			t.Fatalf("merge_info = %v", merge)
		}
		if !strings.Contains(fmt.Sprint(merge["secret_report"]), "notify@example.com") {
			t.Fatalf("report body missing injected email: %v", merge["secret_report"])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("mail provider never called")
	}

	var reloaded models.PersonalAccessToken
	if err := h.db.Where("token_hash = ?", row.TokenHash).Take(&reloaded).Error; err != nil {
		t.Fatalf("reload token: %v", err)
	}
	if reloaded.DayEmail != 1 || reloaded.TotalEmail != 1 {
		t.Fatalf("email counters = %d/%d, want 1/1", reloaded.DayEmail, reloaded.TotalEmail)
	}
	var reloadedUser models.User
	if err := h.db.First(&reloadedUser, user.ID).Error; err != nil {
		t.Fatalf("reload user: %v", err)
	}
	if reloadedUser.Usage.EmailReportedToday != 1 || reloadedUser.Usage.TotalEmailReported != 1 {
		t.Fatalf("user counters = %d/%d, want 1/1",
			reloadedUser.Usage.EmailReportedToday, reloadedUser.Usage.TotalEmailReported)
	}
}

func TestReport_QuotaExceeded(t *testing.T) {
	h := newHarness(t, "")
	user := h.seedUser(t)
	row, plaintext, errCreate := h.tokens.Create(context.Background(), user.ID, "ci", "notify@example.com")
	if errCreate != nil {
		t.Fatalf("create token: %v", errCreate)
	}
	if err := h.db.Model(&models.PersonalAccessToken{}).Where("id = ?", row.ID).
		Update("day_email", user.Subscription.EmailPerDayThreshold).Error; err != nil {
		t.Fatalf("set day_email: %v", err)
	}

	env := sealEnvelope(t, &h.privateKey.PublicKey, []byte(`{"state":"Active"}`))
	rec := h.do(t, http.MethodPost, "/api/report", plaintext, env)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
}

func TestReport_WrongKeyEnvelope(t *testing.T) {
	h := newHarness(t, "")
	user := h.seedUser(t)
	_, plaintext, errCreate := h.tokens.Create(context.Background(), user.ID, "ci", "notify@example.com")
	if errCreate != nil {
		t.Fatalf("create token: %v", errCreate)
	}

	strangerKey, errKey := rsa.GenerateKey(rand.Reader, 2048)
	if errKey != nil {
		t.Fatalf("generate stranger key: %v", errKey)
	}
	env := sealEnvelope(t, &strangerKey.PublicKey, []byte(`{"state":"Active"}`))
	rec := h.do(t, http.MethodPost, "/api/report", plaintext, env)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "key decryption failed") {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestSecretsValidate_UnsupportedService(t *testing.T) {
	h := newHarness(t, "")
	user := h.seedUser(t)
	_, plaintext, errCreate := h.tokens.Create(context.Background(), user.ID, "ci", "ci@example.com")
	if errCreate != nil {
		t.Fatalf("create token: %v", errCreate)
	}

	rec := h.do(t, http.MethodPost, "/api/secrets/validate", plaintext, map[string]any{
		"service": "aws_root_key",
		"secret":  "AKIA...",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["unsupported"] != true {
		t.Fatalf("body = %v", body)
	}
}

func TestSecretsServices_ListsRegistry(t *testing.T) {
	h := newHarness(t, "")
	user := h.seedUser(t)
	_, plaintext, errCreate := h.tokens.Create(context.Background(), user.ID, "ci", "ci@example.com")
	if errCreate != nil {
		t.Fatalf("create token: %v", errCreate)
	}

	rec := h.do(t, http.MethodGet, "/api/secrets/services", plaintext, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "github_personal_access_token") {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestUserInfo_ReturnsProfileAndUsage(t *testing.T) {
	h := newHarness(t, "")
	user := h.seedUser(t)

	rec := h.do(t, http.MethodGet, "/api/userinfo", h.session(t, user), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["email"] != "tester@example.com" {
		t.Fatalf("body = %v", body)
	}
}

func TestCheckThreshold(t *testing.T) {
	h := newHarness(t, "")
	user := h.seedUser(t)
	session := h.session(t, user)

	rec := h.do(t, http.MethodGet, fmt.Sprintf("/api/check-threshold?userId=%d", user.ID), session, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["allowed"] != true {
		t.Fatalf("body = %v", body)
	}

	rec = h.do(t, http.MethodGet, fmt.Sprintf("/api/check-threshold?userId=%d", user.ID+1), session, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("foreign user status = %d, want 403", rec.Code)
	}
}
