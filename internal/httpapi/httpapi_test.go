package httpapi

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"lracoord/internal/coordinator"
	"lracoord/internal/driver"
	"lracoord/internal/recovery"
	"lracoord/internal/store/memstore"
)

type stubDoer struct {
	status int
}

func (d stubDoer) Do(req *http.Request) (*http.Response, error) {
	return &http.Response{StatusCode: d.status, Body: http.NoBody}, nil
}

func newTestHandler(status int) (*Handler, *coordinator.Engine) {
	drv := driver.New(stubDoer{status: status}, zap.NewNop(), driver.DefaultBackoff())
	st := memstore.New()
	engine := coordinator.New("http://coord1/lra-coordinator", st, drv, zap.NewNop())
	scanner := recovery.New(st, engine, drv, zap.NewNop(), time.Hour)
	return New(engine, scanner, "http://coord1/lra-coordinator", zap.NewNop()), engine
}

func newMux(h *Handler) *http.ServeMux {
	mux := http.NewServeMux()
	h.Register(mux, "/lra-coordinator")
	return mux
}

func TestStartReturnsLocationAndVersionHeader(t *testing.T) {
	h, _ := newTestHandler(200)
	mux := newMux(h)

	req := httptest.NewRequest(http.MethodPost, "/lra-coordinator/start?ClientID=c1", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if w.Header().Get("Location") == "" {
		t.Fatal("expected Location header")
	}
	if w.Header().Get(versionHeader) != APIVersion {
		t.Fatalf("expected version header %s, got %s", APIVersion, w.Header().Get(versionHeader))
	}
}

func TestJoinWithLinkHeaderThenCloseCompletes(t *testing.T) {
	h, _ := newTestHandler(200)
	mux := newMux(h)

	startReq := httptest.NewRequest(http.MethodPost, "/lra-coordinator/start?ClientID=c1", nil)
	startW := httptest.NewRecorder()
	mux.ServeHTTP(startW, startReq)
	id := startW.Body.String()
	uid := id[strings.LastIndex(id, "/")+1:]

	joinReq := httptest.NewRequest(http.MethodPut, "/lra-coordinator/"+uid, nil)
	joinReq.Header.Set("Link", `<http://p1/complete>; rel="complete", <http://p1/compensate>; rel="compensate"`)
	joinW := httptest.NewRecorder()
	mux.ServeHTTP(joinW, joinReq)
	if joinW.Code != http.StatusOK {
		t.Fatalf("expected 200 joining, got %d: %s", joinW.Code, joinW.Body.String())
	}
	if joinW.Header().Get("Long-Running-Action-Recovery") == "" {
		t.Fatal("expected recovery uri header")
	}

	closeReq := httptest.NewRequest(http.MethodPut, "/lra-coordinator/"+uid+"/close", nil)
	closeW := httptest.NewRecorder()
	mux.ServeHTTP(closeW, closeReq)
	if closeW.Code != http.StatusOK {
		t.Fatalf("expected 200 closing, got %d: %s", closeW.Code, closeW.Body.String())
	}
	if closeW.Body.String() != "Closed" {
		t.Fatalf("expected Closed, got %q", closeW.Body.String())
	}

	statusReq := httptest.NewRequest(http.MethodGet, "/lra-coordinator/"+uid+"/status", nil)
	statusW := httptest.NewRecorder()
	mux.ServeHTTP(statusW, statusReq)
	if statusW.Code != http.StatusNotFound {
		t.Fatalf("expected closed+forgotten lra status lookup to 404, got %d", statusW.Code)
	}
}

func TestJoinMissingCompensateRelIsBadRequest(t *testing.T) {
	h, _ := newTestHandler(200)
	mux := newMux(h)

	startReq := httptest.NewRequest(http.MethodPost, "/lra-coordinator/start", nil)
	startW := httptest.NewRecorder()
	mux.ServeHTTP(startW, startReq)
	id := startW.Body.String()
	uid := id[strings.LastIndex(id, "/")+1:]

	joinReq := httptest.NewRequest(http.MethodPut, "/lra-coordinator/"+uid, nil)
	joinReq.Header.Set("Link", `<http://p1/complete>; rel="complete"`)
	joinW := httptest.NewRecorder()
	mux.ServeHTTP(joinW, joinReq)
	if joinW.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing compensate rel, got %d: %s", joinW.Code, joinW.Body.String())
	}
}

func TestJoinWithPlainBodyDerivesSuffixedURIs(t *testing.T) {
	h, _ := newTestHandler(200)
	mux := newMux(h)

	startReq := httptest.NewRequest(http.MethodPost, "/lra-coordinator/start", nil)
	startW := httptest.NewRecorder()
	mux.ServeHTTP(startW, startReq)
	id := startW.Body.String()
	uid := id[strings.LastIndex(id, "/")+1:]

	joinReq := httptest.NewRequest(http.MethodPut, "/lra-coordinator/"+uid, strings.NewReader("http://p1"))
	joinW := httptest.NewRecorder()
	mux.ServeHTTP(joinW, joinReq)
	if joinW.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", joinW.Code, joinW.Body.String())
	}

	info, err := func() (*httptest.ResponseRecorder, error) {
		infoReq := httptest.NewRequest(http.MethodGet, "/lra-coordinator/"+uid, nil)
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, infoReq)
		return w, nil
	}()
	if err != nil {
		t.Fatal(err)
	}
	if info.Code != http.StatusOK {
		t.Fatalf("expected 200 on info, got %d", info.Code)
	}
	if !strings.Contains(info.Body.String(), "http://p1/compensate") {
		t.Fatalf("expected derived compensate uri in lra info, got %s", info.Body.String())
	}
}

func TestJoinWithInvalidBodyURIIsPreconditionFailed(t *testing.T) {
	h, _ := newTestHandler(200)
	mux := newMux(h)

	startReq := httptest.NewRequest(http.MethodPost, "/lra-coordinator/start", nil)
	startW := httptest.NewRecorder()
	mux.ServeHTTP(startW, startReq)
	id := startW.Body.String()
	uid := id[strings.LastIndex(id, "/")+1:]

	joinReq := httptest.NewRequest(http.MethodPut, "/lra-coordinator/"+uid, strings.NewReader("not-a-uri"))
	joinW := httptest.NewRecorder()
	mux.ServeHTTP(joinW, joinReq)
	if joinW.Code != http.StatusPreconditionFailed {
		t.Fatalf("expected 412, got %d: %s", joinW.Code, joinW.Body.String())
	}
}

func TestCancelThenListOmitsForgottenLRA(t *testing.T) {
	h, _ := newTestHandler(200)
	mux := newMux(h)

	startReq := httptest.NewRequest(http.MethodPost, "/lra-coordinator/start", nil)
	startW := httptest.NewRecorder()
	mux.ServeHTTP(startW, startReq)
	id := startW.Body.String()
	uid := id[strings.LastIndex(id, "/")+1:]

	joinReq := httptest.NewRequest(http.MethodPut, "/lra-coordinator/"+uid, nil)
	joinReq.Header.Set("Link", `<http://p1/compensate>; rel="compensate"`)
	joinW := httptest.NewRecorder()
	mux.ServeHTTP(joinW, joinReq)
	if joinW.Code != http.StatusOK {
		t.Fatalf("join failed: %d %s", joinW.Code, joinW.Body.String())
	}

	cancelReq := httptest.NewRequest(http.MethodPut, "/lra-coordinator/"+uid+"/cancel", nil)
	cancelW := httptest.NewRecorder()
	mux.ServeHTTP(cancelW, cancelReq)
	if cancelW.Code != http.StatusOK || cancelW.Body.String() != "Cancelled" {
		t.Fatalf("expected Cancelled, got %d %q", cancelW.Code, cancelW.Body.String())
	}

	listReq := httptest.NewRequest(http.MethodGet, "/lra-coordinator/", nil)
	listW := httptest.NewRecorder()
	mux.ServeHTTP(listW, listReq)
	if listW.Code != http.StatusOK {
		t.Fatalf("expected 200 listing, got %d", listW.Code)
	}
	if listW.Body.String() != "[]\n" && listW.Body.String() != "null\n" {
		t.Fatalf("expected the cancelled+forgotten lra absent from the list, got %s", listW.Body.String())
	}
}

func TestRecoveryEndpointAnswersAfterHungClose(t *testing.T) {
	h, _ := newTestHandler(http.StatusAccepted)
	mux := newMux(h)

	startReq := httptest.NewRequest(http.MethodPost, "/lra-coordinator/start", nil)
	startW := httptest.NewRecorder()
	mux.ServeHTTP(startW, startReq)
	id := startW.Body.String()
	uid := id[strings.LastIndex(id, "/")+1:]

	joinReq := httptest.NewRequest(http.MethodPut, "/lra-coordinator/"+uid, nil)
	joinReq.Header.Set("Link", `<http://p1/complete>; rel="complete", <http://p1/compensate>; rel="compensate", <http://p1/status>; rel="status"`)
	joinW := httptest.NewRecorder()
	mux.ServeHTTP(joinW, joinReq)
	if joinW.Code != http.StatusOK {
		t.Fatalf("join failed: %d", joinW.Code)
	}

	closeReq := httptest.NewRequest(http.MethodPut, "/lra-coordinator/"+uid+"/close", nil)
	closeW := httptest.NewRecorder()
	mux.ServeHTTP(closeW, closeReq)
	if closeW.Code != http.StatusOK {
		t.Fatalf("close failed: %d", closeW.Code)
	}

	recReq := httptest.NewRequest(http.MethodGet, "/lra-coordinator/recovery", nil)
	recW := httptest.NewRecorder()
	mux.ServeHTTP(recW, recReq)
	if recW.Code != http.StatusOK {
		t.Fatalf("expected 200 from recovery endpoint, got %d", recW.Code)
	}
}
