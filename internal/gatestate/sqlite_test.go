package gatestate

import (
	"context"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	db, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestStore_NewSQLiteStore(t *testing.T) {
	db, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
}

func TestStore_DefaultsWhenAbsent(t *testing.T) {
	db := newTestStore(t)
	ctx := context.Background()

	record, err := db.ConversionRecord(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if record != nil {
		t.Errorf("ConversionRecord = %v, want nil default", record)
	}

	cfg, err := db.GateConfig(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if cfg != nil {
		t.Errorf("GateConfig = %v, want nil default", cfg)
	}

	disabled, err := db.ConfigRequestsDisabled(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if disabled {
		t.Error("ConfigRequestsDisabled = true, want false default")
	}

	denial, err := db.LastNotificationDenial(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if denial != nil {
		t.Errorf("LastNotificationDenial = %v, want nil default", denial)
	}

	token, err := db.PushToken(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if token != "" {
		t.Errorf("PushToken = %q, want empty default", token)
	}
}

func TestStore_ConversionRecordRoundTrip(t *testing.T) {
	db := newTestStore(t)
	ctx := context.Background()

	record := ConversionRecord{
		"is_organic_conversion": true,
		"media_source":          "organic",
		"install_time":          "2024-05-01 10:00:00",
	}
	if err := db.SetConversionRecord(ctx, record); err != nil {
		t.Fatal(err)
	}

	got, err := db.ConversionRecord(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("ConversionRecord = nil after set")
	}
	if !got.IsOrganic() {
		t.Error("IsOrganic() = false, want true")
	}
	if got["media_source"] != "organic" {
		t.Errorf("media_source = %v, want organic", got["media_source"])
	}
}

func TestStore_SetConversionRecord_Nil(t *testing.T) {
	db := newTestStore(t)

	if err := db.SetConversionRecord(context.Background(), nil); err == nil {
		t.Error("SetConversionRecord(nil) = nil error, want ErrInvalidRecord")
	}
}

func TestStore_IsOrganic_NonBool(t *testing.T) {
	record := ConversionRecord{"is_organic_conversion": "true"}
	if record.IsOrganic() {
		t.Error("IsOrganic() = true for string value, want false")
	}
}

func TestStore_GateConfigRoundTrip(t *testing.T) {
	db := newTestStore(t)
	ctx := context.Background()

	expires := time.Now().Add(48 * time.Hour).Truncate(time.Second).UTC()
	if err := db.SetGateConfig(ctx, GateConfig{
		URL:       "https://promo.example/x",
		ExpiresAt: expires,
	}); err != nil {
		t.Fatal(err)
	}

	got, err := db.GateConfig(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("GateConfig = nil after set")
	}
	if got.URL != "https://promo.example/x" {
		t.Errorf("URL = %q", got.URL)
	}
	if !got.ExpiresAt.Equal(expires) {
		t.Errorf("ExpiresAt = %v, want %v", got.ExpiresAt, expires)
	}
	if !got.ValidAt(time.Now()) {
		t.Error("ValidAt(now) = false for future expiry")
	}
	if got.ValidAt(expires.Add(time.Second)) {
		t.Error("ValidAt = true past expiry")
	}
}

func TestStore_BreakerFlagLifecycle(t *testing.T) {
	db := newTestStore(t)
	ctx := context.Background()

	if err := db.SetConfigRequestsDisabled(ctx); err != nil {
		t.Fatal(err)
	}
	disabled, err := db.ConfigRequestsDisabled(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !disabled {
		t.Error("ConfigRequestsDisabled = false after set")
	}

	// A successful fetch removes the flag key entirely.
	if err := db.ClearConfigRequestsDisabled(ctx); err != nil {
		t.Fatal(err)
	}
	disabled, err = db.ConfigRequestsDisabled(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if disabled {
		t.Error("ConfigRequestsDisabled = true after clear")
	}

	// Clearing an absent flag is a no-op.
	if err := db.ClearConfigRequestsDisabled(ctx); err != nil {
		t.Fatal(err)
	}
}

func TestStore_LastWriteWinsPerKey(t *testing.T) {
	db := newTestStore(t)
	ctx := context.Background()

	if err := db.SetPushToken(ctx, "token-a"); err != nil {
		t.Fatal(err)
	}
	if err := db.SetPushToken(ctx, "token-b"); err != nil {
		t.Fatal(err)
	}

	token, err := db.PushToken(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if token != "token-b" {
		t.Errorf("PushToken = %q, want token-b", token)
	}
}

func TestStore_NotificationDenialRoundTrip(t *testing.T) {
	db := newTestStore(t)
	ctx := context.Background()

	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	if err := db.SetLastNotificationDenial(ctx, at); err != nil {
		t.Fatal(err)
	}

	got, err := db.LastNotificationDenial(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("LastNotificationDenial = nil after set")
	}
	if !got.Equal(at) {
		t.Errorf("LastNotificationDenial = %v, want %v", got, at)
	}
}

func TestStore_LaunchLog(t *testing.T) {
	db := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	launches := []Launch{
		{ID: "01AAAAAAAAAAAAAAAAAAAAAAAA", Destination: "main_app", RoutedAt: base},
		{ID: "01BBBBBBBBBBBBBBBBBBBBBBBB", Destination: "web_overlay", OverlayURL: "https://promo.example/x", RoutedAt: base.Add(time.Minute)},
		{ID: "01CCCCCCCCCCCCCCCCCCCCCCCC", Destination: "offline", RoutedAt: base.Add(2 * time.Minute)},
	}
	for _, l := range launches {
		if err := db.RecordLaunch(ctx, l); err != nil {
			t.Fatal(err)
		}
	}

	got, err := db.ListLaunches(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("ListLaunches returned %d rows, want 2", len(got))
	}
	if got[0].Destination != "offline" {
		t.Errorf("newest destination = %q, want offline", got[0].Destination)
	}
	if got[1].OverlayURL != "https://promo.example/x" {
		t.Errorf("overlay URL = %q", got[1].OverlayURL)
	}
}
