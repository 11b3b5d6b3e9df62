package permission

import (
	"context"
	"testing"
	"time"
)

func TestNotDeterminedByDefault(t *testing.T) {
	g := NewGate(NewFakeAuthorizer(true))
	snap := g.Snapshot()
	if snap.Microphone != NotDetermined || snap.SpeechRecognition != NotDetermined {
		t.Fatalf("expected NotDetermined, got %+v", snap)
	}
	if g.IsFullyAuthorized() {
		t.Fatal("gate should not be authorized before any grant")
	}
}

func TestRequestGrantsBoth(t *testing.T) {
	g := NewGate(NewFakeAuthorizer(true))
	snap, err := g.RequestAuthorization(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !snap.FullyAuthorized() {
		t.Fatalf("expected full authorization, got %+v", snap)
	}
	if !g.IsFullyAuthorized() {
		t.Fatal("gate should report fully authorized")
	}
}

func TestRequestDenied(t *testing.T) {
	g := NewGate(NewFakeAuthorizer(false))
	snap, err := g.RequestAuthorization(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if snap.FullyAuthorized() {
		t.Fatal("denied request must not authorize the gate")
	}
	if snap.Microphone != Denied {
		t.Fatalf("microphone = %v, want Denied", snap.Microphone)
	}
}

func TestPartialGrantIsNotEnough(t *testing.T) {
	auth := NewFakeAuthorizer(true)
	auth.SetStatus(Microphone, Authorized)
	auth.SetStatus(SpeechRecognition, Denied)
	g := NewGate(auth)
	if g.IsFullyAuthorized() {
		t.Fatal("one authorized capability must not satisfy the gate")
	}
}

func TestRequestSuspendsUntilUserResponds(t *testing.T) {
	auth := NewFakeAuthorizer(true)
	auth.RequestGate = make(chan struct{})
	g := NewGate(auth)

	done := make(chan Snapshot, 1)
	go func() {
		snap, _ := g.RequestAuthorization(context.Background())
		done <- snap
	}()

	select {
	case <-done:
		t.Fatal("request resolved before user response")
	case <-time.After(20 * time.Millisecond):
	}

	close(auth.RequestGate)
	select {
	case snap := <-done:
		if !snap.FullyAuthorized() {
			t.Fatalf("expected authorization after user response, got %+v", snap)
		}
	case <-time.After(time.Second):
		t.Fatal("request never resolved")
	}
}

func TestRequestCancelled(t *testing.T) {
	auth := NewFakeAuthorizer(true)
	auth.RequestGate = make(chan struct{})
	g := NewGate(auth)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := g.RequestAuthorization(ctx); err == nil {
		t.Fatal("expected context error")
	}
}

func TestUpdatesPublishOnChange(t *testing.T) {
	auth := NewFakeAuthorizer(true)
	g := NewGate(auth)
	ch, stop := g.Updates()
	defer stop()

	<-ch // initial snapshot

	auth.SetStatus(Microphone, Authorized)
	auth.SetStatus(SpeechRecognition, Authorized)
	g.Snapshot()

	select {
	case snap := <-ch:
		if !snap.FullyAuthorized() {
			t.Fatalf("expected authorized snapshot, got %+v", snap)
		}
	case <-time.After(time.Second):
		t.Fatal("no update published on grant change")
	}
}

// Revocation mid-session is observed by the next Snapshot call.
func TestRevocationObserved(t *testing.T) {
	auth := NewFakeAuthorizer(true)
	auth.SetStatus(Microphone, Authorized)
	auth.SetStatus(SpeechRecognition, Authorized)
	g := NewGate(auth)
	if !g.IsFullyAuthorized() {
		t.Fatal("setup: expected authorized")
	}

	auth.SetStatus(Microphone, Denied)
	if g.IsFullyAuthorized() {
		t.Fatal("revocation not observed")
	}
}
