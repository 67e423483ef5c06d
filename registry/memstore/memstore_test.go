package memstore

import (
	"context"
	"errors"
	"testing"

	"github.com/doevelopper/Clusterlib/registry"
)

func TestCreateAndGetData(t *testing.T) {
	ctx := context.Background()
	s := New()

	created, err := s.Create(ctx, "/a", []byte("v1"), registry.CreateMode{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created != "/a" {
		t.Errorf("created = %q, want /a", created)
	}

	data, stat, _, err := s.GetData(ctx, "/a", false)
	if err != nil {
		t.Fatalf("GetData: %v", err)
	}
	if string(data) != "v1" {
		t.Errorf("data = %q, want v1", data)
	}
	if stat.Version != 0 {
		t.Errorf("version = %d, want 0", stat.Version)
	}
}

func TestCreateMissingParent(t *testing.T) {
	ctx := context.Background()
	s := New()

	if _, err := s.Create(ctx, "/missing/child", nil, registry.CreateMode{}); !errors.Is(err, registry.ErrNoParent) {
		t.Errorf("err = %v, want ErrNoParent", err)
	}
}

func TestCreateDuplicate(t *testing.T) {
	ctx := context.Background()
	s := New()

	if _, err := s.Create(ctx, "/a", nil, registry.CreateMode{}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := s.Create(ctx, "/a", nil, registry.CreateMode{}); !errors.Is(err, registry.ErrNodeExists) {
		t.Errorf("err = %v, want ErrNodeExists", err)
	}
}

func TestSequentialNamesIncreaseMonotonically(t *testing.T) {
	ctx := context.Background()
	s := New()
	if _, err := s.Create(ctx, "/q", nil, registry.CreateMode{}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	first, err := s.Create(ctx, "/q/E-", nil, registry.CreateMode{Sequential: true})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	second, err := s.Create(ctx, "/q/E-", nil, registry.CreateMode{Sequential: true})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if first >= second {
		t.Errorf("expected %q < %q", first, second)
	}
}

func TestSetDataVersionCAS(t *testing.T) {
	ctx := context.Background()
	s := New()
	if _, err := s.Create(ctx, "/a", []byte("v1"), registry.CreateMode{}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := s.SetData(ctx, "/a", []byte("v2"), 5); !errors.Is(err, registry.ErrBadVersion) {
		t.Errorf("err = %v, want ErrBadVersion", err)
	}

	stat, err := s.SetData(ctx, "/a", []byte("v2"), 0)
	if err != nil {
		t.Fatalf("SetData: %v", err)
	}
	if stat.Version != 1 {
		t.Errorf("version after SetData = %d, want 1", stat.Version)
	}
}

func TestDeleteNonEmptyRequiresRecursive(t *testing.T) {
	ctx := context.Background()
	s := New()
	if _, err := s.Create(ctx, "/a", nil, registry.CreateMode{}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := s.Create(ctx, "/a/b", nil, registry.CreateMode{}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := s.Delete(ctx, "/a", -1, false); !errors.Is(err, registry.ErrNotEmpty) {
		t.Errorf("err = %v, want ErrNotEmpty", err)
	}
	if err := s.Delete(ctx, "/a", -1, true); err != nil {
		t.Fatalf("recursive Delete: %v", err)
	}
}

func TestExistsWatchFiresOnDelete(t *testing.T) {
	ctx := context.Background()
	s := New()
	if _, err := s.Create(ctx, "/a", nil, registry.CreateMode{}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	_, _, ch, err := s.Exists(ctx, "/a", true)
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}

	if err := s.Delete(ctx, "/a", -1, false); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	select {
	case ev := <-ch:
		if ev.Type != registry.EventDeleted {
			t.Errorf("event type = %v, want DELETED", ev.Type)
		}
	default:
		t.Fatal("expected existence watch to fire synchronously on delete")
	}
}

func TestEphemeralRemovedOnSessionExpiry(t *testing.T) {
	ctx := context.Background()
	s := New()
	if _, err := s.Create(ctx, "/sess", []byte("x"), registry.CreateMode{Ephemeral: true}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	<-s.SessionEvents() // drain the initial CONNECTED event from New()

	oldSession := s.SessionID()
	s.ExpireSession()
	if s.SessionID() == oldSession {
		t.Error("expected a fresh session id after ExpireSession")
	}

	exists, _, _, err := s.Exists(ctx, "/sess", false)
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if exists {
		t.Error("expected ephemeral node to be removed on session expiry")
	}

	select {
	case ev := <-s.SessionEvents():
		if ev.Type != registry.EventSession || ev.State != registry.SessionExpired {
			t.Errorf("session event = %+v, want SESSION/SessionExpired", ev)
		}
	default:
		t.Fatal("expected a queued SESSION/SessionExpired event")
	}
}

func TestPersistentNodeSurvivesSessionExpiry(t *testing.T) {
	ctx := context.Background()
	s := New()
	if _, err := s.Create(ctx, "/durable", nil, registry.CreateMode{}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	s.ExpireSession()

	exists, _, _, err := s.Exists(ctx, "/durable", false)
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if !exists {
		t.Error("expected a persistent node to survive session expiry")
	}
}

func TestCloseRejectsFurtherCalls(t *testing.T) {
	ctx := context.Background()
	s := New()
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := s.Create(ctx, "/a", nil, registry.CreateMode{}); !errors.Is(err, registry.ErrConnectionLoss) {
		t.Errorf("err = %v, want ErrConnectionLoss", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close() = %v, want nil", err)
	}
}
