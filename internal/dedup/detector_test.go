package dedup

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/mineskin-ng/skingen/internal/catalog"
	"github.com/mineskin-ng/skingen/internal/model"
)

type fakeSkins struct {
	mu sync.Mutex

	byURL  map[string]*model.Skin
	byUUID map[string]*model.Skin
	byHash map[string]*model.Skin

	incrementCalls int
	findErr        error

	// gate, when non-nil, is waited on inside FindByHash before returning,
	// holding the first caller's lookup open while the other callers join
	// it through singleflight. A caller that has signaled started but not
	// yet entered ProbeHash when the gate closes can still run its own lookup.
	gate chan struct{}
}

var _ catalog.SkinRepository = (*fakeSkins)(nil)

// matchesFilter mirrors the real repository's WHERE clause: lookups are
// scoped to the (name, variant, visibility) identity tuple.
func matchesFilter(s *model.Skin, flt catalog.Filter) *model.Skin {
	if s == nil || s.Name != flt.Name || s.Variant != flt.Variant || s.Visibility != flt.Visibility {
		return nil
	}
	return s
}

func (f *fakeSkins) FindByURLPattern(_ context.Context, url string, flt catalog.Filter) (*model.Skin, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	return matchesFilter(f.byURL[url], flt), nil
}
func (f *fakeSkins) FindByUUID(_ context.Context, uuid string, flt catalog.Filter) (*model.Skin, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	return matchesFilter(f.byUUID[uuid], flt), nil
}
func (f *fakeSkins) FindByHash(_ context.Context, phash string, flt catalog.Filter) (*model.Skin, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	if f.gate != nil {
		<-f.gate
	}
	return matchesFilter(f.byHash[phash], flt), nil
}
func (f *fakeSkins) Insert(_ context.Context, s *model.Skin) (*model.Skin, error) { return s, nil }
func (f *fakeSkins) Exists(_ context.Context, id uint64) (bool, error)            { return false, nil }
func (f *fakeSkins) IncrementDuplicate(_ context.Context, s *model.Skin) (*model.Skin, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.incrementCalls++
	out := *s
	out.DuplicateCount++
	return &out, nil
}

func TestProbeURL_Hit_IncrementsAndTags(t *testing.T) {
	t.Parallel()
	skin := &model.Skin{ID: 1234, DuplicateCount: 5}
	fs := &fakeSkins{byURL: map[string]*model.Skin{"https://api.mineskin.org/skin/1234": skin}}
	d := New(fs, nil)

	res, err := d.ProbeURL(context.Background(), "https://api.mineskin.org/skin/1234", catalog.Filter{})
	if err != nil {
		t.Fatalf("ProbeURL: %v", err)
	}
	if res == nil {
		t.Fatalf("want hit")
	}
	if res.Source != model.SourceMineskinURL {
		t.Fatalf("source = %v, want mineskin_url", res.Source)
	}
	if res.Skin.DuplicateCount != 6 {
		t.Fatalf("duplicateCount = %d, want 6", res.Skin.DuplicateCount)
	}
}

func TestProbeURL_TextureURL_TaggedTextureURL(t *testing.T) {
	t.Parallel()
	url := "https://textures.minecraft.net/texture/abc123"
	fs := &fakeSkins{byURL: map[string]*model.Skin{url: {ID: 9}}}
	d := New(fs, nil)

	res, err := d.ProbeURL(context.Background(), url, catalog.Filter{})
	if err != nil {
		t.Fatalf("ProbeURL: %v", err)
	}
	if res == nil || res.Source != model.SourceTextureURL {
		t.Fatalf("res = %+v, want a hit tagged texture_url", res)
	}
}

func TestProbeUUID_Miss_ReturnsNil(t *testing.T) {
	t.Parallel()
	fs := &fakeSkins{byUUID: map[string]*model.Skin{}}
	d := New(fs, nil)

	res, err := d.ProbeUUID(context.Background(), "11111111-1111-1111-1111-111111111111", catalog.Filter{})
	if err != nil {
		t.Fatalf("ProbeUUID: %v", err)
	}
	if res != nil {
		t.Fatalf("want no hit, got %+v", res)
	}
}

func TestProbeHash_FilterMismatch_NoHit(t *testing.T) {
	t.Parallel()
	skin := &model.Skin{ID: 2, Name: "steve", Variant: model.VariantClassic, Visibility: model.VisibilityPublic}
	fs := &fakeSkins{byHash: map[string]*model.Skin{"cafe": skin}}
	d := New(fs, nil)

	res, err := d.ProbeHash(context.Background(), "cafe",
		catalog.Filter{Name: "alex", Variant: model.VariantClassic, Visibility: model.VisibilityPublic})
	if err != nil {
		t.Fatalf("ProbeHash: %v", err)
	}
	if res != nil {
		t.Fatalf("identical pixels under a different name must not be a duplicate, got %+v", res)
	}
	if fs.incrementCalls != 0 {
		t.Fatalf("incrementCalls = %d, want 0 on a filter mismatch", fs.incrementCalls)
	}
}

func TestProbeHash_PropagatesLookupError(t *testing.T) {
	t.Parallel()
	wantErr := errors.New("catalog down")
	fs := &fakeSkins{findErr: wantErr}
	d := New(fs, nil)

	_, err := d.ProbeHash(context.Background(), "deadbeef", catalog.Filter{})
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want wrapping %v", err, wantErr)
	}
}

func TestProbe_ConcurrentIdenticalKeys_Coalesce(t *testing.T) {
	t.Parallel()
	skin := &model.Skin{ID: 1}
	gate := make(chan struct{})
	fs := &fakeSkins{byHash: map[string]*model.Skin{"h": skin}, gate: gate}
	d := New(fs, nil)

	const n = 20
	started := make(chan struct{}, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			started <- struct{}{}
			_, _ = d.ProbeHash(context.Background(), "h", catalog.Filter{})
		}()
	}
	for i := 0; i < n; i++ {
		<-started
	}
	close(gate)
	wg.Wait()

	if fs.incrementCalls != 1 {
		t.Fatalf("incrementCalls = %d, want exactly 1 (all %d callers must coalesce)", fs.incrementCalls, n)
	}
}
