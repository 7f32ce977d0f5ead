package generation

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"os"

	"github.com/mineskin-ng/skingen/internal/errs"
	"github.com/mineskin-ng/skingen/internal/model"
)

const userAgent = "MineSkin.org"

// upstreamClient talks to the upstream profile service for the
// operations the orchestrator needs: changing the active skin,
// re-reading the profile to learn the resulting signed texture, and
// reading another account's session profile for fromUser.
type upstreamClient struct {
	httpClient *http.Client
	baseURL    string
}

func newUpstreamClient(httpClient *http.Client, baseURL string) *upstreamClient {
	return &upstreamClient{httpClient: httpClient, baseURL: baseURL}
}

type changeSkinByURLRequest struct {
	Variant string `json:"variant"`
	URL     string `json:"url"`
}

// changeSkinByURL issues the JSON form of the skin-change call.
func (c *upstreamClient) changeSkinByURL(ctx context.Context, a *model.Account, variant model.Variant, textureURL string) error {
	body, err := json.Marshal(changeSkinByURLRequest{Variant: string(variant), URL: textureURL})
	if err != nil {
		return errs.New(errs.KindSkinChangeFailed, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/minecraft/profile/skins", bytes.NewReader(body))
	if err != nil {
		return errs.New(errs.KindSkinChangeFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.doChangeSkin(a, req)
}

// changeSkinByFile issues the multipart form of the skin-change call against a local
// temp file path.
func (c *upstreamClient) changeSkinByFile(ctx context.Context, a *model.Account, variant model.Variant, filePath string) error {
	f, err := os.Open(filePath)
	if err != nil {
		return errs.New(errs.KindSkinChangeFailed, err)
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("variant", string(variant)); err != nil {
		return errs.New(errs.KindSkinChangeFailed, err)
	}
	part, err := mw.CreateFormFile("file", "skin.png")
	if err != nil {
		return errs.New(errs.KindSkinChangeFailed, err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return errs.New(errs.KindSkinChangeFailed, err)
	}
	if err := mw.Close(); err != nil {
		return errs.New(errs.KindSkinChangeFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/minecraft/profile/skins", &buf)
	if err != nil {
		return errs.New(errs.KindSkinChangeFailed, err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return c.doChangeSkin(a, req)
}

func (c *upstreamClient) doChangeSkin(a *model.Account, req *http.Request) error {
	setUpstreamHeaders(req, a)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errs.New(errs.KindSkinChangeFailed, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errs.Newf(errs.KindSkinChangeFailed, "upstream skin change: status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

type profileProperty struct {
	Name      string `json:"name"`
	Value     string `json:"value"`
	Signature string `json:"signature"`
}

type profileResponse struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Properties []profileProperty `json:"properties"`
}

type texturesPayload struct {
	Textures struct {
		Skin struct {
			URL      string `json:"url"`
			Metadata struct {
				Model string `json:"model"`
			} `json:"metadata"`
		} `json:"SKIN"`
	} `json:"textures"`
}

// texture is the decoded signed texture descriptor read back after a change.
type texture struct {
	Value     []byte
	Signature []byte
	SkinURL   string
}

// fetchTexture re-reads the profile and extracts the skin texture
// descriptor, raising INVALID_SKIN_DATA when the SKIN property is absent.
func (c *upstreamClient) fetchTexture(ctx context.Context, a *model.Account) (*texture, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/minecraft/profile", nil)
	if err != nil {
		return nil, errs.New(errs.KindInvalidSkinData, err)
	}
	setUpstreamHeaders(req, a)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errs.New(errs.KindInvalidSkinData, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.New(errs.KindInvalidSkinData, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errs.Newf(errs.KindInvalidSkinData, "fetch profile: status %d", resp.StatusCode)
	}

	var profile profileResponse
	if err := json.Unmarshal(body, &profile); err != nil {
		return nil, errs.New(errs.KindInvalidSkinData, err)
	}

	var texturesProp *profileProperty
	for i := range profile.Properties {
		if profile.Properties[i].Name == "textures" {
			texturesProp = &profile.Properties[i]
			break
		}
	}
	if texturesProp == nil {
		return nil, errs.Newf(errs.KindInvalidSkinData, "profile missing textures property")
	}

	decoded, err := base64.StdEncoding.DecodeString(texturesProp.Value)
	if err != nil {
		return nil, errs.New(errs.KindInvalidSkinData, err)
	}
	var payload texturesPayload
	if err := json.Unmarshal(decoded, &payload); err != nil {
		return nil, errs.New(errs.KindInvalidSkinData, err)
	}
	if payload.Textures.Skin.URL == "" {
		return nil, errs.Newf(errs.KindInvalidSkinData, "profile textures missing SKIN entry")
	}

	return &texture{
		Value:     []byte(texturesProp.Value),
		Signature: []byte(texturesProp.Signature),
		SkinURL:   payload.Textures.Skin.URL,
	}, nil
}

// publicSkin describes another account's currently-active skin as read
// from the unauthenticated session profile.
type publicSkin struct {
	URL     string
	Variant model.Variant
}

// fetchPublicSkin reads the session profile for a referenced Minecraft
// account (the `fromUser` entry point's source) and extracts its current
// skin texture URL plus the model geometry the profile reports.
func (c *upstreamClient) fetchPublicSkin(ctx context.Context, shortUUID string) (*publicSkin, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/session/minecraft/profile/"+shortUUID, nil)
	if err != nil {
		return nil, errs.New(errs.KindInvalidSkinData, err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errs.New(errs.KindInvalidSkinData, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.New(errs.KindInvalidSkinData, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errs.Newf(errs.KindInvalidSkinData, "fetch session profile: status %d", resp.StatusCode)
	}

	var profile profileResponse
	if err := json.Unmarshal(body, &profile); err != nil {
		return nil, errs.New(errs.KindInvalidSkinData, err)
	}
	var texturesProp *profileProperty
	for i := range profile.Properties {
		if profile.Properties[i].Name == "textures" {
			texturesProp = &profile.Properties[i]
			break
		}
	}
	if texturesProp == nil {
		return nil, errs.Newf(errs.KindInvalidSkinData, "session profile missing textures property")
	}
	decoded, err := base64.StdEncoding.DecodeString(texturesProp.Value)
	if err != nil {
		return nil, errs.New(errs.KindInvalidSkinData, err)
	}
	var payload texturesPayload
	if err := json.Unmarshal(decoded, &payload); err != nil {
		return nil, errs.New(errs.KindInvalidSkinData, err)
	}
	if payload.Textures.Skin.URL == "" {
		return nil, errs.Newf(errs.KindInvalidSkinData, "session profile has no SKIN texture")
	}

	variant := model.VariantClassic
	if payload.Textures.Skin.Metadata.Model == "slim" {
		variant = model.VariantSlim
	}
	return &publicSkin{URL: payload.Textures.Skin.URL, Variant: variant}, nil
}

func setUpstreamHeaders(req *http.Request, a *model.Account) {
	req.Header.Set("Authorization", "Bearer "+a.AccessToken)
	req.Header.Set("User-Agent", userAgent)
	if a.RequestIP != "" {
		req.Header.Set("X-Forwarded-For", a.RequestIP)
		req.Header.Set("REMOTE_ADDR", a.RequestIP)
	}
}
