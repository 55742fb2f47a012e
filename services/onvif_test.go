package services

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"
)

// soapServer answers each ONVIF action with canned XML and records whether
// requests carried the security header.
func soapServer(t *testing.T, responses map[string]string) (*httptest.Server, *int) {
	t.Helper()
	unsigned := 0

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		req := string(body)

		if !strings.Contains(req, "UsernameToken") || !strings.Contains(req, "PasswordDigest") {
			unsigned++
		}

		for action, resp := range responses {
			if strings.Contains(req, "<"+action) {
				w.Write([]byte(resp))
				return
			}
		}
		http.Error(w, "unexpected action", http.StatusBadRequest)
	}))
	t.Cleanup(srv.Close)
	return srv, &unsigned
}

func testClient(t *testing.T, srv *httptest.Server) *OnvifClient {
	t.Helper()
	c := NewOnvifClient("rtsp://admin:pw@10.0.0.5:554/ch01/0", "admin", "pw", zap.NewNop())
	c.endpoint = srv.URL
	c.client = srv.Client()
	return c
}

const (
	profilesTokenAttr = `<Envelope><Body><GetProfilesResponse>
		<Profiles token="prof0"><Name>mainStream</Name></Profiles>
		<Profiles token="prof1"><Name>subStream</Name></Profiles>
	</GetProfilesResponse></Body></Envelope>`

	profilesTokenElem = `<Envelope><Body><GetProfilesResponse>
		<Profiles><Token>prof_elem</Token><Name>mainStream</Name></Profiles>
	</GetProfilesResponse></Body></Envelope>`

	oneNode = `<Envelope><Body><GetNodesResponse>
		<PTZNode token="node0"><Name>PTZ</Name></PTZNode>
	</GetNodesResponse></Body></Envelope>`

	noNodes = `<Envelope><Body><GetNodesResponse></GetNodesResponse></Body></Envelope>`
)

func TestOnvifClient_ConnectUsesFirstProfile(t *testing.T) {
	srv, unsigned := soapServer(t, map[string]string{
		"GetProfiles": profilesTokenAttr,
		"GetNodes":    oneNode,
	})
	c := testClient(t, srv)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	if c.profileToken != "prof0" {
		t.Errorf("profile token = %q, want prof0", c.profileToken)
	}
	if *unsigned != 0 {
		t.Errorf("%d requests lacked the security header", *unsigned)
	}
}

func TestOnvifClient_ConnectTokenElementVariant(t *testing.T) {
	srv, _ := soapServer(t, map[string]string{
		"GetProfiles": profilesTokenElem,
		"GetNodes":    oneNode,
	})
	c := testClient(t, srv)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	if c.profileToken != "prof_elem" {
		t.Errorf("profile token = %q, want prof_elem", c.profileToken)
	}
}

func TestOnvifClient_ConnectRequiresPTZNode(t *testing.T) {
	srv, _ := soapServer(t, map[string]string{
		"GetProfiles": profilesTokenAttr,
		"GetNodes":    noNodes,
	})
	c := testClient(t, srv)

	if err := c.Connect(context.Background()); err == nil {
		t.Fatal("Connect() = nil, want error when camera has no PTZ nodes")
	}
}

func TestOnvifClient_GetPresetsNormalizesTokens(t *testing.T) {
	srv, _ := soapServer(t, map[string]string{
		"GetPresets": `<Envelope><Body><GetPresetsResponse>
			<Preset token="p0"><Name>Home</Name></Preset>
			<Preset><Token>p1</Token><Name>Gate</Name></Preset>
			<Preset></Preset>
		</GetPresetsResponse></Body></Envelope>`,
	})
	c := testClient(t, srv)
	c.profileToken = "prof0"

	presets, err := c.GetPresets(context.Background())
	if err != nil {
		t.Fatalf("GetPresets() error: %v", err)
	}
	if len(presets) != 3 {
		t.Fatalf("presets = %d, want 3", len(presets))
	}

	want := []Preset{
		{Token: "p0", Name: "Home"},
		{Token: "p1", Name: "Gate"},
		{Token: "preset_2", Name: "Preset 2"}, // synthesized for the bare entry
	}
	for i, p := range presets {
		if p != want[i] {
			t.Errorf("presets[%d] = %+v, want %+v", i, p, want[i])
		}
	}
}

func TestOnvifClient_GetStatusParsesPosition(t *testing.T) {
	srv, _ := soapServer(t, map[string]string{
		"GetStatus": `<Envelope><Body><GetStatusResponse><PTZStatus>
			<Position><PanTilt x="0.5" y="-0.25"/><Zoom x="0.1"/></Position>
		</PTZStatus></GetStatusResponse></Body></Envelope>`,
	})
	c := testClient(t, srv)
	c.profileToken = "prof0"

	pos, err := c.GetStatus(context.Background())
	if err != nil {
		t.Fatalf("GetStatus() error: %v", err)
	}
	want := Position{Pan: 0.5, Tilt: -0.25, Zoom: 0.1}
	if pos != want {
		t.Errorf("position = %+v, want %+v", pos, want)
	}
}

func TestOnvifClient_GotoPreset(t *testing.T) {
	srv, _ := soapServer(t, map[string]string{
		"GotoPreset": `<Envelope><Body><GotoPresetResponse/></Body></Envelope>`,
	})
	c := testClient(t, srv)
	c.profileToken = "prof0"

	if err := c.GotoPreset(context.Background(), "p1", 1.0); err != nil {
		t.Fatalf("GotoPreset() error: %v", err)
	}
}

func TestOnvifClient_RequiresConnectFirst(t *testing.T) {
	srv, _ := soapServer(t, nil)
	c := testClient(t, srv)

	if _, err := c.GetPresets(context.Background()); err == nil {
		t.Error("GetPresets() before Connect returned nil error")
	}
	if err := c.GotoPreset(context.Background(), "p0", 1.0); err == nil {
		t.Error("GotoPreset() before Connect returned nil error")
	}
	if _, err := c.GetStatus(context.Background()); err == nil {
		t.Error("GetStatus() before Connect returned nil error")
	}
}

func TestOnvifClient_HTTPErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "fault", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)
	c := testClient(t, srv)
	c.profileToken = "prof0"

	if _, err := c.GetPresets(context.Background()); err == nil {
		t.Fatal("GetPresets() = nil error on HTTP 500")
	}
}

func TestCameraHost(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"rtsp://admin:pw@10.0.0.5:554/ch01/0", "10.0.0.5"},
		{"http://camera.local/onvif/device_service", "camera.local"},
		{"  10.0.0.5  ", "10.0.0.5"},
	}
	for _, tt := range tests {
		if got := cameraHost(tt.in); got != tt.want {
			t.Errorf("cameraHost(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
