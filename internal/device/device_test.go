package device

import (
	"context"
	"errors"
	"net"
	"testing"

	"factoryops/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		ua   string
		want Bucket
	}{
		{"Mozilla/5.0 (Windows NT 10.0; Win64; x64)", Desktop},
		{"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_0)", Desktop},
		{"Mozilla/5.0 (X11; Linux x86_64)", Desktop},
		{"Mozilla/5.0 (Linux; Android 14) Mobile Safari/537.36", Mobile},
		{"Mozilla/5.0 (Android 13; Tablet; rv:120.0)", Tablet},
		{"Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X)", Other},
		{"curl/8.4.0", Other},
		{"", Other},
	}
	for _, tt := range tests {
		t.Run(tt.ua, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.ua))
		})
	}
}

func TestClassifyStored(t *testing.T) {
	assert.Equal(t, Mobile, ClassifyStored(`{"userAgent":"Foo Mobile"}`))
	assert.Equal(t, Other, ClassifyStored(`{not json`))
	assert.Equal(t, Other, ClassifyStored(""))
}

type fakeResolver struct {
	ptr     map[string][]string
	forward map[string][]string
}

func (f fakeResolver) LookupAddr(_ context.Context, addr string) ([]string, error) {
	if names, ok := f.ptr[addr]; ok {
		return names, nil
	}
	return nil, errors.New("no such host")
}

func (f fakeResolver) LookupIPAddr(_ context.Context, host string) ([]net.IPAddr, error) {
	raw, ok := f.forward[host]
	if !ok {
		return nil, errors.New("no such host")
	}
	out := make([]net.IPAddr, 0, len(raw))
	for _, ip := range raw {
		out = append(out, net.IPAddr{IP: net.ParseIP(ip)})
	}
	return out, nil
}

func TestClassifier_IsFactory(t *testing.T) {
	ctx := context.Background()
	resolver := fakeResolver{
		ptr: map[string][]string{
			"203.0.113.5": {"kiosk-3.plant.local."},
			"203.0.113.6": {"home.example.com."},
		},
		forward: map[string][]string{
			"kiosk-3.plant.local": {"203.0.113.5"},
		},
	}
	c, err := NewClassifier([]string{"10.20.0.0/16", "fd00::/8"}, []string{".plant.local"}, resolver)
	require.NoError(t, err)

	assert.True(t, c.IsFactory(ctx, "10.20.4.7:51234"))
	assert.True(t, c.IsFactory(ctx, "10.20.4.7"))
	assert.True(t, c.IsFactory(ctx, "[fd00::1]:443"))
	assert.True(t, c.IsFactory(ctx, "::ffff:10.20.0.1"))
	assert.True(t, c.IsFactory(ctx, "203.0.113.5:80"))
	assert.False(t, c.IsFactory(ctx, "203.0.113.6:80"))
	assert.False(t, c.IsFactory(ctx, "198.51.100.1:80"))
	assert.False(t, c.IsFactory(ctx, "garbage"))

	require.NoError(t, c.Update([]string{"198.51.100.0/24"}, nil))
	assert.True(t, c.IsFactory(ctx, "198.51.100.1:80"))
	assert.False(t, c.IsFactory(ctx, "10.20.4.7:51234"))
	assert.False(t, c.IsFactory(ctx, "203.0.113.5:80"))

	assert.Error(t, c.Update([]string{"300.0.0.0/8"}, nil))
	assert.True(t, c.IsFactory(ctx, "198.51.100.1:80"), "failed update keeps previous lists")
}

func TestClassifier_ReverseDNSSpoofing(t *testing.T) {
	ctx := context.Background()
	resolver := fakeResolver{
		ptr: map[string][]string{
			"203.0.113.9":  {"attacker-plant.local."},
			"203.0.113.10": {"x.plant.local."},
			"203.0.113.11": {"plant.local."},
		},
		forward: map[string][]string{
			"attacker-plant.local": {"203.0.113.9"},
			"x.plant.local":        {"10.20.0.5"},
			"plant.local":          {"203.0.113.11"},
		},
	}
	c, err := NewClassifier(nil, []string{"plant.local"}, resolver)
	require.NoError(t, err)

	assert.False(t, c.IsFactory(ctx, "203.0.113.9:80"), "suffix must match on a label boundary")
	assert.False(t, c.IsFactory(ctx, "203.0.113.10:80"), "PTR name must resolve back to the client")
	assert.True(t, c.IsFactory(ctx, "203.0.113.11:80"), "the domain itself matches")
}

func TestSnapshot(t *testing.T) {
	reported := models.DeviceInfo{Platform: "Win32", ScreenResolution: "1920x1080", IsFactoryDevice: true, IsMobile: true}
	info := Snapshot(reported, "Mozilla/5.0 (Windows NT 10.0)", false)

	assert.Equal(t, "Mozilla/5.0 (Windows NT 10.0)", info.UserAgent)
	assert.True(t, info.IsDesktop)
	assert.False(t, info.IsMobile)
	assert.False(t, info.IsFactoryDevice, "client flag is ignored")
	assert.Len(t, info.Fingerprint, 64)
	assert.Equal(t, Fingerprint(info), info.Fingerprint)

	keep := Snapshot(models.DeviceInfo{UserAgent: "X", Fingerprint: "abc"}, "", true)
	assert.Equal(t, "abc", keep.Fingerprint)
	assert.True(t, keep.IsFactoryDevice)
}
