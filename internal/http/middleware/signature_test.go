package middleware

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/studify/video-pipeline/internal/data/repos/testutil"
)

func signDelivery(t *testing.T, key string, body []byte, mutate func(jwt.MapClaims)) string {
	t.Helper()
	sum := sha256.Sum256(body)
	claims := jwt.MapClaims{
		"iss": "Upstash",
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(5 * time.Minute).Unix(),
		"body": base64.RawURLEncoding.EncodeToString(sum[:]),
	}
	if mutate != nil {
		mutate(claims)
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func signatureTestRouter(t *testing.T, currentKey, nextKey string) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	v, err := NewSignatureVerifier(testutil.Logger(t), currentKey, nextKey)
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	r := gin.New()
	r.POST("/hook", v.RequireSignature(), func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	return r
}

func postSigned(r *gin.Engine, body []byte, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/hook", bytes.NewReader(body))
	if token != "" {
		req.Header.Set("Upstash-Signature", token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRequireSignature_Valid(t *testing.T) {
	r := signatureTestRouter(t, "current-key", "")
	body := []byte(`{"job_id":"abc"}`)
	w := postSigned(r, body, signDelivery(t, "current-key", body, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status: %d body=%s", w.Code, w.Body.String())
	}
}

func TestRequireSignature_Missing(t *testing.T) {
	r := signatureTestRouter(t, "current-key", "")
	w := postSigned(r, []byte(`{}`), "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status: %d", w.Code)
	}
}

func TestRequireSignature_WrongKey(t *testing.T) {
	r := signatureTestRouter(t, "current-key", "")
	body := []byte(`{"job_id":"abc"}`)
	w := postSigned(r, body, signDelivery(t, "forged-key", body, nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status: %d", w.Code)
	}
}

func TestRequireSignature_NextKeyDuringRotation(t *testing.T) {
	r := signatureTestRouter(t, "old-key", "new-key")
	body := []byte(`{"job_id":"abc"}`)
	w := postSigned(r, body, signDelivery(t, "new-key", body, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status: %d body=%s", w.Code, w.Body.String())
	}
}

func TestRequireSignature_BodyTampered(t *testing.T) {
	r := signatureTestRouter(t, "current-key", "")
	token := signDelivery(t, "current-key", []byte(`{"job_id":"abc"}`), nil)
	w := postSigned(r, []byte(`{"job_id":"evil"}`), token)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status: %d", w.Code)
	}
}

func TestRequireSignature_Expired(t *testing.T) {
	r := signatureTestRouter(t, "current-key", "")
	body := []byte(`{"job_id":"abc"}`)
	token := signDelivery(t, "current-key", body, func(c jwt.MapClaims) {
		c["iat"] = time.Now().Add(-time.Hour).Unix()
		c["exp"] = time.Now().Add(-30 * time.Minute).Unix()
	})
	w := postSigned(r, body, token)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status: %d", w.Code)
	}
}

func TestRequireSignature_WrongIssuer(t *testing.T) {
	r := signatureTestRouter(t, "current-key", "")
	body := []byte(`{"job_id":"abc"}`)
	token := signDelivery(t, "current-key", body, func(c jwt.MapClaims) {
		c["iss"] = "someone-else"
	})
	w := postSigned(r, body, token)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status: %d", w.Code)
	}
}

func TestRequireSignature_MissingBodyClaim(t *testing.T) {
	r := signatureTestRouter(t, "current-key", "")
	body := []byte(`{"job_id":"abc"}`)
	token := signDelivery(t, "current-key", body, func(c jwt.MapClaims) {
		delete(c, "body")
	})
	w := postSigned(r, body, token)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status: %d", w.Code)
	}
}

func TestNewSignatureVerifier_RequiresKey(t *testing.T) {
	if _, err := NewSignatureVerifier(testutil.Logger(t), "", ""); err == nil {
		t.Fatalf("expected error without signing key")
	}
}
