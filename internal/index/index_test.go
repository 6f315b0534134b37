package index

import (
	"context"
	"errors"
	"os"
	"reflect"
	"testing"
	"time"

	"github.com/starford/guardian/internal/apperr"
	"github.com/starford/guardian/internal/license"
	"github.com/starford/guardian/internal/models"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	f, err := os.CreateTemp("", "guardian-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	db, err := Open(f.Name())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSchemaCreation(t *testing.T) {
	db := testDB(t)
	for _, table := range []string{"capsules", "licenses", "license_requests", "backups"} {
		var count int
		if err := db.conn.QueryRow(`SELECT count(*) FROM ` + table).Scan(&count); err != nil {
			t.Fatalf("%s table missing: %v", table, err)
		}
	}
}

func TestCapsuleUpsertGetList(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	s := db.Capsules()

	c := models.CapsuleBackup{ID: "cap-1", Title: "Letter home", Type: "letter", GriefScore: 7.5, Timestamp: 100, Metadata: map[string]string{"lang": "en"}}
	if err := s.Upsert(ctx, c); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	ok, err := s.Exists(ctx, "cap-1")
	if err != nil || !ok {
		t.Fatalf("Exists = %v, %v; want true", ok, err)
	}
	got, err := s.Get(ctx, "cap-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !reflect.DeepEqual(got, c) {
		t.Errorf("Get = %+v, want %+v", got, c)
	}

	c.Title = "Letter home (revised)"
	c.Metadata = nil
	if err := s.Upsert(ctx, c); err != nil {
		t.Fatalf("Upsert update: %v", err)
	}
	_ = s.Upsert(ctx, models.CapsuleBackup{ID: "cap-0", Type: "memory"})

	all, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 2 || all[0].ID != "cap-0" || all[1].Title != "Letter home (revised)" || all[1].Metadata != nil {
		t.Errorf("List = %+v", all)
	}
}

func TestCapsuleGet_NotFound(t *testing.T) {
	db := testDB(t)
	_, err := db.Capsules().Get(context.Background(), "missing")
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	ok, err := db.Capsules().Exists(context.Background(), "missing")
	if err != nil || ok {
		t.Errorf("Exists = %v, %v; want false", ok, err)
	}
}

func TestCapsuleUpsert_RequiresID(t *testing.T) {
	db := testDB(t)
	err := db.Capsules().Upsert(context.Background(), models.CapsuleBackup{Title: "orphan"})
	if !errors.Is(err, apperr.ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}

func TestCapsuleDelete(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	s := db.Capsules()
	_ = s.Upsert(ctx, models.CapsuleBackup{ID: "del", Title: "vanishing"})
	if err := s.Delete(ctx, "del"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if ok, _ := s.Exists(ctx, "del"); ok {
		t.Error("capsule still exists after delete")
	}
}

func TestSearch_Basic(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	_ = db.Capsules().Upsert(ctx, models.CapsuleBackup{ID: "s1", Title: "Uniqueword diary"})
	_ = db.Capsules().Upsert(ctx, models.CapsuleBackup{ID: "s2", Title: "Other"})

	results, err := db.Capsules().Search(ctx, "uniqueword", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].ID != "s1" {
		t.Errorf("search results = %+v, want 1 hit for s1", results)
	}
}

func TestLicenseStore_RoundTrip(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	store := db.Licenses()
	exp := time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)
	l := &models.CapsuleLicense{
		ID:          "license_1",
		CapsuleID:   "cap-1",
		Author:      models.Author{Name: "alice", WalletAddress: "0xa"},
		LicensedTo:  "bob",
		LicenseType: models.LicenseCommercial,
		IssuedAt:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		ExpiresAt:   &exp,
		LicenseHash: "h",
		Terms:       models.LicenseTerms{RoyaltyRate: 15, TerritorialLimits: []string{"EU"}},
		Verification: models.Verification{
			VerifiedBy:      []string{},
			ComplianceScore: 80,
		},
	}
	if err := store.SaveLicense(ctx, l); err != nil {
		t.Fatalf("SaveLicense: %v", err)
	}
	got, err := store.GetLicense(ctx, "license_1")
	if err != nil {
		t.Fatalf("GetLicense: %v", err)
	}
	if !reflect.DeepEqual(got, l) {
		t.Errorf("GetLicense = %+v, want %+v", got, l)
	}

	later := *l
	later.ID = "license_0"
	later.CapsuleID = "cap-2"
	later.IssuedAt = l.IssuedAt.Add(time.Hour)
	_ = store.SaveLicense(ctx, &later)

	all, err := store.ListLicenses(ctx)
	if err != nil || len(all) != 2 || all[0].ID != "license_1" {
		t.Fatalf("ListLicenses = %+v, %v", all, err)
	}
	byCap, err := store.LicensesByCapsule(ctx, "cap-2")
	if err != nil || len(byCap) != 1 || byCap[0].ID != "license_0" {
		t.Fatalf("LicensesByCapsule = %+v, %v", byCap, err)
	}

	if _, err := store.GetLicense(ctx, "missing"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("GetLicense missing err = %v", err)
	}
}

func TestLicenseStore_RequestLifecycle(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	store := db.Licenses()
	r := &models.LicenseRequest{ID: "request_1", CapsuleID: "cap-1", RequestedBy: "bob", LicenseType: models.LicenseStandard, Status: models.RequestPending, CreatedAt: time.Now().UTC()}

	if err := store.SaveRequest(ctx, r); err != nil {
		t.Fatalf("SaveRequest: %v", err)
	}
	if err := store.SaveRequest(ctx, r); !errors.Is(err, apperr.ErrAlreadyExists) {
		t.Fatalf("duplicate SaveRequest err = %v, want ErrAlreadyExists", err)
	}

	r.Status = models.RequestApproved
	if err := store.UpdateRequest(ctx, r, models.RequestPending); err != nil {
		t.Fatalf("UpdateRequest: %v", err)
	}
	r.Status = models.RequestRejected
	if err := store.UpdateRequest(ctx, r, models.RequestPending); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("second UpdateRequest err = %v, want ErrConflict", err)
	}
	got, err := store.GetRequest(ctx, "request_1")
	if err != nil || got.Status != models.RequestApproved {
		t.Fatalf("GetRequest = %+v, %v", got, err)
	}

	missing := &models.LicenseRequest{ID: "nope", Status: models.RequestApproved}
	if err := store.UpdateRequest(ctx, missing, models.RequestPending); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("UpdateRequest missing err = %v, want ErrNotFound", err)
	}
}

func TestLicenseManagerOverSQLite(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	_ = db.Capsules().Upsert(ctx, models.CapsuleBackup{ID: "cap-2", GriefScore: 9})
	m := license.NewManager(db.Licenses(), db.Licenses(), license.WithCapsuleLookup(db.Capsules()))

	req, err := m.CreateLicenseRequest(ctx, license.RequestInput{CapsuleID: "cap-2", RequestedBy: "bob", LicenseType: models.LicenseStandard})
	if err != nil {
		t.Fatalf("CreateLicenseRequest: %v", err)
	}
	res, err := m.ProcessLicenseRequest(ctx, req.ID, license.ActionApprove, "carol")
	if err != nil || !res.Success {
		t.Fatalf("approve = %+v, %v", res, err)
	}
	if res.License.GriefScore != 9 {
		t.Errorf("grief score = %v, want capsule's 9", res.License.GriefScore)
	}

	for _, v := range []string{"v1", "v2"} {
		if _, err := m.VerifyLicense(ctx, res.License.ID, v); err != nil {
			t.Fatalf("VerifyLicense: %v", err)
		}
	}
	got, err := m.GetLicense(ctx, res.License.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Verification.IsVerified || len(got.Verification.VerifiedBy) != 2 {
		t.Errorf("verification = %+v", got.Verification)
	}

	again, err := m.ProcessLicenseRequest(ctx, req.ID, license.ActionApprove, "carol")
	if err != nil || again.Success || again.Message != license.MsgAlreadyProcessed {
		t.Errorf("re-approve = %+v, %v", again, err)
	}
}

func TestBackupCatalog(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	_ = db.UpsertBackup(ctx, BackupRow{Path: "old.gcb", Checksum: "1", CapsuleCount: 2, Valid: true, CreatedAt: 100})
	_ = db.UpsertBackup(ctx, BackupRow{Path: "new.gcb", Checksum: "2", CapsuleCount: 3, Valid: false, Issue: "bad", CreatedAt: 200})

	rows, err := db.ListBackups(ctx)
	if err != nil {
		t.Fatalf("ListBackups: %v", err)
	}
	if len(rows) != 2 || rows[0].Path != "new.gcb" || rows[0].Valid || rows[0].Issue != "bad" {
		t.Errorf("ListBackups = %+v", rows)
	}

	if err := db.DeleteBackup(ctx, "old.gcb"); err != nil {
		t.Fatalf("DeleteBackup: %v", err)
	}
	if _, err := db.GetBackup(ctx, "old.gcb"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("GetBackup after delete err = %v", err)
	}
	cs, err := db.BackupChecksums(ctx)
	if err != nil || len(cs) != 1 || cs["new.gcb"] != "2" {
		t.Errorf("BackupChecksums = %v, %v", cs, err)
	}
}
