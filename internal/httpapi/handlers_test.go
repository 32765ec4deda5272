package httpapi

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"testing"
	"time"

	"engagement-platform/internal/audit"
	"engagement-platform/internal/auth"
	"engagement-platform/internal/channel"
	"engagement-platform/internal/customer"
	"engagement-platform/internal/dialog"
	"engagement-platform/internal/objection"
	"engagement-platform/internal/orchestrator"
	"engagement-platform/internal/reporting"
	"engagement-platform/internal/signals"
	"engagement-platform/internal/specialist"
	"engagement-platform/internal/timeline"

	"github.com/gin-gonic/gin"
)

var fixedNow = time.Unix(1700000000, 0).UTC()

type env struct {
	router   *gin.Engine
	audit    *audit.MemoryRepo
	dispatch *channel.MemoryDispatcher
	dialogs  *dialog.MemoryRepo
	pins     *specialist.MemoryPinStore
}

func newEnv(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()

	dir := customer.NewMemoryDirectory(customer.Customer{ID: "c1", Name: "Ana Ruiz", Phone: "+15550001", SMSOptIn: true, PipelineStage: "lead"})
	tlRepo := timeline.NewMemoryRepo()
	if err := tlRepo.SaveTimeline(ctx, timeline.Timeline{ID: "nurture", Name: "Nurture", PipelineStage: "lead", DurationDays: 3, Active: true, Actions: []timeline.Action{
		{ID: "welcome-sms", Day: 1, Channel: customer.ChannelSMS, Template: "Hi {{first_name}}", Active: true},
	}}); err != nil {
		t.Fatalf("save timeline: %v", err)
	}
	e := &env{audit: audit.NewMemoryRepo(), dispatch: channel.NewMemoryDispatcher(), dialogs: dialog.NewMemoryRepo(), pins: specialist.NewMemoryPinStore()}
	sigs := signals.NewService(signals.NewMemoryRepo())
	sched := timeline.NewScheduler(tlRepo, dir, sigs, e.dispatch, nil)
	sched.Now = func() time.Time { return fixedNow }

	objRepo := objection.NewMemoryRepo()
	x := dialog.NewExecutor(objection.NewService(objRepo), nil, nil)
	x.Now = func() time.Time { return fixedNow }
	_ = e.dialogs.SaveTree(ctx, dialog.Tree{ID: "inbound", Trigger: orchestrator.InboundTrigger, Active: true, Nodes: []dialog.Node{
		{Key: "start", Type: dialog.NodeStart, Prompt: "Hi {{first_name}}.", DefaultNext: "faq"},
		{Key: "faq", Type: dialog.NodeQuestion, Prompt: "See our FAQ."},
	}})

	h := Handlers{
		Engine:  orchestrator.New(dir, sched, dialog.NewService(e.dialogs, dir, x), sigs, nil),
		Reports: reporting.NewService(tlRepo, objRepo),
		Audit:   audit.NewService(e.audit),
		Pins:    e.pins,
		Now:     func() time.Time { return fixedNow },
	}
	wh := TwilioWebhooks{Engine: h.Engine, Now: func() time.Time { return fixedNow }}

	r := gin.New()
	r.POST("/webhooks/twilio/sms", wh.HandleInboundSMS)
	r.POST("/webhooks/twilio/call-status", wh.HandleCallStatus)

	v1 := r.Group("/v1", func(c *gin.Context) {
		ctx := auth.WithIdentity(c.Request.Context(), "op-1", "operator")
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	})
	v1.POST("/timelines/:id/ticks/:day", h.Tick)
	v1.POST("/timelines/:id/days/:day/advance", h.AdvanceDueDay)
	v1.POST("/progress/:id/pause", h.PauseProgress)
	v1.POST("/customers/:id/stage", h.EnterStage)
	v1.POST("/customers/:id/pin", h.PinSpecialist)
	v1.POST("/signals", h.RecordSignal)
	v1.POST("/inbound", h.Inbound)
	v1.POST("/dialogs/:id/messages", h.DialogMessage)
	v1.GET("/reports/timelines/:id", h.TimelineReport)
	v1.GET("/reports/objections", h.ObjectionReport)
	e.router = r
	return e
}

func (e *env) do(method, path, contentType, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	e.router.ServeHTTP(w, req)
	return w
}

func TestStageTickAndPause(t *testing.T) {
	e := newEnv(t)

	w := e.do(http.MethodPost, "/v1/customers/c1/stage", "application/json", `{"stage":"lead"}`)
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var stage orchestrator.StageResult
	if err := json.Unmarshal(w.Body.Bytes(), &stage); err != nil || stage.Progress == nil || !stage.Created {
		t.Fatalf("unexpected stage result %s", w.Body.String())
	}

	if w := e.do(http.MethodPost, "/v1/timelines/nurture/days/0/advance", "", ""); w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	w = e.do(http.MethodPost, "/v1/timelines/nurture/ticks/1", "", "")
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if e.dispatch.CountFor("c1", "welcome-sms") != 1 {
		t.Fatalf("expected welcome sms dispatched")
	}

	if w := e.do(http.MethodPost, "/v1/timelines/nurture/ticks/-1", "", ""); w.Code != 400 {
		t.Fatalf("expected 400 for negative day, got %d", w.Code)
	}
	if w := e.do(http.MethodPost, "/v1/timelines/missing/ticks/1", "", ""); w.Code != 404 {
		t.Fatalf("expected 404 for unknown timeline, got %d", w.Code)
	}

	if w := e.do(http.MethodPost, "/v1/progress/"+stage.Progress.ID+"/pause", "", ""); w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	admin := e.audit.OfType(audit.EventTypeAdminAction)
	if len(admin) != 2 || admin[1].Message != "progress paused" || admin[1].ActorUserID != "op-1" || admin[1].ActorRole != "operator" {
		t.Fatalf("unexpected admin audit %+v", admin)
	}

	w = e.do(http.MethodGet, "/v1/reports/timelines/nurture", "", "")
	var sum reporting.TimelineSummary
	if err := json.Unmarshal(w.Body.Bytes(), &sum); err != nil || sum.Paused != 1 || sum.ActionsCompleted != 1 {
		t.Fatalf("unexpected summary %s", w.Body.String())
	}
}

func TestRecordSignal_DefaultsOccurredAt(t *testing.T) {
	e := newEnv(t)
	w := e.do(http.MethodPost, "/v1/signals", "application/json", `{"customer_id":"c1","signal":"email_open"}`)
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var rec signals.Record
	if err := json.Unmarshal(w.Body.Bytes(), &rec); err != nil || !rec.LastAt.Equal(fixedNow) {
		t.Fatalf("unexpected record %s", w.Body.String())
	}
	if w := e.do(http.MethodPost, "/v1/signals", "application/json", `{"signal":"email_open"}`); w.Code != 400 {
		t.Fatalf("expected 400 without customer, got %d", w.Code)
	}
}

func TestInboundThenDialogMessage(t *testing.T) {
	e := newEnv(t)
	w := e.do(http.MethodPost, "/v1/inbound", "application/json", `{"customer_id":"c1","channel":"chat","body":"hello"}`)
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var reply orchestrator.Reply
	if err := json.Unmarshal(w.Body.Bytes(), &reply); err != nil || !reply.Started || reply.Execution == nil {
		t.Fatalf("unexpected reply %s", w.Body.String())
	}
	if reply.Execution.CurrentNode != "faq" {
		t.Fatalf("expected faq, got %s", reply.Execution.CurrentNode)
	}

	if w := e.do(http.MethodPost, "/v1/dialogs/"+reply.Execution.ID+"/messages", "application/json", `{"body":"thanks"}`); w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w := e.do(http.MethodPost, "/v1/dialogs/nope/messages", "application/json", `{"body":"x"}`); w.Code != 404 {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestReports_RejectBadRange(t *testing.T) {
	e := newEnv(t)
	if w := e.do(http.MethodGet, "/v1/reports/objections?from=yesterday", "", ""); w.Code != 400 {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	// Half-open ranges are rejected by the service.
	if w := e.do(http.MethodGet, "/v1/reports/objections?from=2023-11-14T00:00:00Z", "", ""); w.Code != 400 {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if w := e.do(http.MethodGet, "/v1/reports/objections", "", ""); w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestTwilioInboundSMS(t *testing.T) {
	e := newEnv(t)
	form := url.Values{"From": {"+15550001"}, "To": {"+15559999"}, "Body": {"hello"}, "MessageSid": {"SM1"}}
	w := e.do(http.MethodPost, "/webhooks/twilio/sms", "application/x-www-form-urlencoded", form.Encode())
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "<Message>Hi Ana.</Message>") || !strings.Contains(body, "<Message>See our FAQ.</Message>") {
		t.Fatalf("unexpected twiml %s", body)
	}

	form.Set("From", "+19999999999")
	w = e.do(http.MethodPost, "/webhooks/twilio/sms", "application/x-www-form-urlencoded", form.Encode())
	if w.Code != 200 || strings.Contains(w.Body.String(), "<Message>") {
		t.Fatalf("unknown sender must get an empty response, got %d %s", w.Code, w.Body.String())
	}
}

func TestTwilioCallStatus(t *testing.T) {
	e := newEnv(t)
	form := url.Values{"CallSid": {"CA1"}, "To": {"+15550001"}, "CallStatus": {"no-answer"}}
	w := e.do(http.MethodPost, "/webhooks/twilio/call-status", "application/x-www-form-urlencoded", form.Encode())
	if w.Code != 200 || !strings.Contains(w.Body.String(), `"recorded":1`) {
		t.Fatalf("unexpected response %d %s", w.Code, w.Body.String())
	}
}

func sign(token, fullURL string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(form.Get(k))
	}
	mac := hmac.New(sha1.New, []byte(token))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestRequireTwilioSignature(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/hook", RequireTwilioSignature("secret", "https://engine.example.com/"), func(c *gin.Context) { c.Status(204) })

	form := url.Values{"From": {"+15550001"}, "Body": {"hi"}}
	send := func(sig string) int {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/hook", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		if sig != "" {
			req.Header.Set("X-Twilio-Signature", sig)
		}
		r.ServeHTTP(w, req)
		return w.Code
	}

	if code := send(""); code != 403 {
		t.Fatalf("expected 403 without signature, got %d", code)
	}
	if code := send(sign("other", "https://engine.example.com/hook", form)); code != 403 {
		t.Fatalf("expected 403 for wrong key, got %d", code)
	}
	if code := send(sign("secret", "https://engine.example.com/hook", form)); code != 204 {
		t.Fatalf("expected 204 for valid signature, got %d", code)
	}
}

func TestPinSpecialist(t *testing.T) {
	e := newEnv(t)
	w := e.do(http.MethodPost, "/v1/customers/c1/pin", "application/json", `{"specialist_id":"vip","ttl":"2h"}`)
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	pin, ok, err := e.pins.ActivePin(context.Background(), "c1", fixedNow.Add(time.Hour))
	if err != nil || !ok || pin.SpecialistID != "vip" {
		t.Fatalf("expected active pin, got %+v %v %v", pin, ok, err)
	}
	if _, ok, _ := e.pins.ActivePin(context.Background(), "c1", fixedNow.Add(3*time.Hour)); ok {
		t.Fatalf("pin must expire")
	}
	if w := e.do(http.MethodPost, "/v1/customers/c1/pin", "application/json", `{"specialist_id":"vip","ttl":"soon"}`); w.Code != 400 {
		t.Fatalf("expected 400 for bad ttl, got %d", w.Code)
	}
	if w := e.do(http.MethodPost, "/v1/customers/c1/pin", "application/json", `{"ttl":"1h"}`); w.Code != 400 {
		t.Fatalf("expected 400 without specialist, got %d", w.Code)
	}
	if got := e.audit.OfType(audit.EventTypeAdminAction); len(got) != 1 || got[0].Message != "specialist pinned" {
		t.Fatalf("unexpected admin audit %+v", got)
	}
}
