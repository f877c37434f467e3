package tests

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"

	echoapi "github.com/trezcool/cinderella/apps/api/echo"
	"github.com/trezcool/cinderella/core"
	"github.com/trezcool/cinderella/core/assignment"
	"github.com/trezcool/cinderella/core/chat"
	"github.com/trezcool/cinderella/core/user"
	emailsvc "github.com/trezcool/cinderella/services/email"
	inmemdb "github.com/trezcool/cinderella/storage/database/inmem"
	testutil "github.com/trezcool/cinderella/tests"
)

var errMissingToken = httpErr{Error: "missing or malformed jwt"}

type fixture struct {
	conf      *core.Config
	app       echoapi.Server
	hub       *chat.Hub
	usrRepo   user.Repository
	asgmtRepo assignment.Repository
	msgRepo   chat.Repository
	mailSvc   *emailsvc.ConsoleService
}

func setup(t *testing.T, adjust ...func(*core.Config)) fixture {
	t.Helper()

	conf := core.NewTestConfig()
	for _, fn := range adjust {
		fn(conf)
	}
	logger := testutil.NewLogger(conf)
	validate, translator := testutil.NewValidator()

	// set up DB & repos
	db := inmemdb.Open()
	f := fixture{
		conf:      conf,
		usrRepo:   inmemdb.NewUserRepository(db),
		asgmtRepo: inmemdb.NewAssignmentRepository(db),
		msgRepo:   inmemdb.NewMessageRepository(db),
		mailSvc:   emailsvc.NewConsoleServiceMock(conf, logger),
	}

	// set up services
	usrSvc := user.NewService(f.usrRepo, f.mailSvc, conf)
	f.hub = chat.NewHub(chat.HubDeps{
		Config:     conf.Chat,
		Registry:   chat.NewRegistry(),
		Repo:       f.msgRepo,
		Directory:  usrSvc,
		Validate:   validate,
		Translator: translator,
		Logger:     logger,
	})

	// set up server
	f.app = echoapi.NewServer(echoapi.ServerDeps{
		Conf:           conf,
		Logger:         logger,
		UserSvc:        usrSvc,
		AssignmentSvc:  assignment.NewService(f.asgmtRepo),
		ChatHub:        f.hub,
		ChatRepo:       f.msgRepo,
		Validate:       validate,
		Translator:     translator,
		DisableReqLogs: true,
	})
	t.Cleanup(func() { _ = f.app.Close() })
	return f
}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
}

// run serves every test case on `app`; `method` defaults to GET and `wantCode` to 200.
func run(t *testing.T, app http.Handler, tests []httpTest) {
	t.Helper()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.method == "" {
				tt.method = http.MethodGet
			}
			if tt.wantCode == 0 {
				tt.wantCode = http.StatusOK
			}
			req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	return req, rec
}

func newRequest(method, path string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	return newAuthRequest(method, path, "", data...)
}

func getToken(t *testing.T, conf *core.Config, usr user.User) string {
	t.Helper()

	token, err := echoapi.GenerateToken(conf, echoapi.GetUserClaims(conf, usr))
	if err != nil {
		t.Fatalf("getToken(): %v", err)
	}
	return token
}

func marchallObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marchallObj(): %v", err)
	}
	return data
}

func marchallList(t *testing.T, objs ...interface{}) []byte {
	if objs == nil {
		objs = []interface{}{}
	}
	data, err := json.Marshal(objs)
	if err != nil {
		t.Fatalf("marchallList(): %v", err)
	}
	return data
}

func unmarshal(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()

	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("unmarshal(%s): %v", rec.Body.String(), err)
	}
}

func jsonBytesEqual(b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	return reflect.DeepEqual(j1, j2), nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	t.Helper()

	assert.Equal(t, tt.wantCode, rec.Code, "body: %s", rec.Body.String())
	if tt.wantData == nil {
		return
	}
	ok, err := jsonBytesEqual(rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}
