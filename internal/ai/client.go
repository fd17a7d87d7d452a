package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/campusfinder/internal/security"
)

// describePrompt は画像説明生成のプロンプト。
// 埋め込みベクトルの比較精度を上げるため、キーワード中心の短い説明を要求する。
const describePrompt = "Describe this item in a few keywords for a lost and found database."

// maxJitter はリトライ遅延に加算されるジッターの最大値。
const maxJitter = 250 * time.Millisecond

// EmbeddingGenerator は画像の埋め込みベクトル生成のインターフェース。
// テスト時にモックに差し替え可能。
type EmbeddingGenerator interface {
	// ComputeEmbedding は画像URLから埋め込みベクトルを生成する。
	// クールダウン中の場合はErrCooldownを返す（errors.Isで判定可能）。
	ComputeEmbedding(ctx context.Context, imageURL string) ([]float64, error)
}

// Metrics は推論API呼び出しのメトリクス記録インターフェース。
// metrics.Collectorの部分集合。
type Metrics interface {
	RecordInferenceStatus(statusCode int)
	RecordInferenceLatency(duration time.Duration)
	RecordCooldownActivated()
}

// noopMetrics はメトリクス未設定時のデフォルト実装。
type noopMetrics struct{}

func (noopMetrics) RecordInferenceStatus(statusCode int) {}

func (noopMetrics) RecordInferenceLatency(duration time.Duration) {}

func (noopMetrics) RecordCooldownActivated() {}

// ClientConfig は推論クライアントの設定パラメータ。
type ClientConfig struct {
	// APIKey はGemini APIの認証キー。
	APIKey string
	// BaseURL はGemini APIのベースURL（テスト用に差し替え可能）。
	BaseURL string
	// VisionModel は画像説明生成に使用するモデル名。
	VisionModel string
	// EmbeddingModel は埋め込みベクトル生成に使用するモデル名。
	EmbeddingModel string
	// MaxRetries はリトライ可能なエラーに対する最大リトライ回数。
	MaxRetries int
	// BackoffBase はリトライ遅延の初期値。
	BackoffBase time.Duration
	// BackoffFactor はリトライ遅延の増加倍率。
	BackoffFactor float64
}

// Client はGemini APIを使用した埋め込みベクトル生成クライアント。
// 画像説明の生成（generateContent）と説明文の埋め込み（embedContent）の
// 2段階でベクトルを生成する。
// すべてのAPI呼び出しはPacerによってペース制御される。
type Client struct {
	httpClient *http.Client
	fetcher    security.ImageFetcher
	pacer      Pacer
	logger     *slog.Logger
	config     ClientConfig
	metrics    Metrics

	jitter func() time.Duration // テスト用に差し替え可能
}

// NewClient はClientの新しいインスタンスを生成する。
func NewClient(
	httpClient *http.Client,
	fetcher security.ImageFetcher,
	pacer Pacer,
	logger *slog.Logger,
	config ClientConfig,
) *Client {
	return &Client{
		httpClient: httpClient,
		fetcher:    fetcher,
		pacer:      pacer,
		logger:     logger,
		config:     config,
		metrics:    noopMetrics{},
		jitter: func() time.Duration {
			return time.Duration(rand.Int63n(int64(maxJitter)))
		},
	}
}

// WithMetrics はメトリクスコレクターを設定したClientを返す。
func (c *Client) WithMetrics(m Metrics) *Client {
	c.metrics = m
	return c
}

// ComputeEmbedding は画像URLから埋め込みベクトルを生成する。
// 処理の流れ:
//  1. 縮小変換済みURLから画像をダウンロード
//  2. generateContentで画像のキーワード説明を生成
//  3. embedContentで説明文の埋め込みベクトルを生成
//
// 各API呼び出しの前にPacer.Waitでペース制御を行うため、
// クールダウン中はErrCooldownで即座に失敗する。
func (c *Client) ComputeEmbedding(ctx context.Context, imageURL string) ([]float64, error) {
	// クールダウン中は画像ダウンロードも行わず即座に失敗する
	if c.pacer.CooldownRemaining() > 0 {
		return nil, ErrCooldown
	}

	// 縮小版URLでダウンロードサイズを抑える
	fetchURL := TransformForEmbedding(imageURL)

	data, mimeType, err := c.fetcher.FetchImage(ctx, fetchURL)
	if err != nil {
		return nil, fmt.Errorf("画像の取得に失敗しました: %w", err)
	}
	if mimeType == "" || !strings.HasPrefix(mimeType, "image/") {
		mimeType = GuessMIMEType(fetchURL)
	}

	description, err := c.describeImage(ctx, data, mimeType)
	if err != nil {
		return nil, fmt.Errorf("画像説明の生成に失敗しました: %w", err)
	}

	embedding, err := c.embedText(ctx, description)
	if err != nil {
		return nil, fmt.Errorf("埋め込みベクトルの生成に失敗しました: %w", err)
	}

	return embedding, nil
}

// generateContentRequest はgenerateContent APIのリクエストボディ。
type generateContentRequest struct {
	Contents []generateContent `json:"contents"`
}

type generateContent struct {
	Parts []contentPart `json:"parts"`
}

type contentPart struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

// generateContentResponse はgenerateContent APIのレスポンスボディ。
type generateContentResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// describeImage は画像のキーワード説明を生成する。
func (c *Client) describeImage(ctx context.Context, imageData []byte, mimeType string) (string, error) {
	reqBody := generateContentRequest{
		Contents: []generateContent{
			{
				Parts: []contentPart{
					{Text: describePrompt},
					{InlineData: &inlineData{
						MimeType: mimeType,
						Data:     base64.StdEncoding.EncodeToString(imageData),
					}},
				},
			},
		},
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent", c.config.BaseURL, c.config.VisionModel)
	respBody, err := c.postJSON(ctx, endpoint, reqBody)
	if err != nil {
		return "", err
	}

	var result generateContentResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
	}

	if len(result.Candidates) == 0 || len(result.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("generateContentレスポンスに候補が含まれていません")
	}

	description := strings.TrimSpace(result.Candidates[0].Content.Parts[0].Text)
	if description == "" {
		return "", fmt.Errorf("generateContentレスポンスの説明文が空です")
	}

	return description, nil
}

// embedContentRequest はembedContent APIのリクエストボディ。
type embedContentRequest struct {
	Model   string          `json:"model"`
	Content generateContent `json:"content"`
}

// embedContentResponse はembedContent APIのレスポンスボディ。
type embedContentResponse struct {
	Embedding struct {
		Values []float64 `json:"values"`
	} `json:"embedding"`
}

// embedText は説明文の埋め込みベクトルを生成する。
func (c *Client) embedText(ctx context.Context, text string) ([]float64, error) {
	reqBody := embedContentRequest{
		Model: "models/" + c.config.EmbeddingModel,
		Content: generateContent{
			Parts: []contentPart{{Text: text}},
		},
	}

	endpoint := fmt.Sprintf("%s/models/%s:embedContent", c.config.BaseURL, c.config.EmbeddingModel)
	respBody, err := c.postJSON(ctx, endpoint, reqBody)
	if err != nil {
		return nil, err
	}

	var result embedContentResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
	}

	if len(result.Embedding.Values) == 0 {
		return nil, fmt.Errorf("embedContentレスポンスの埋め込みベクトルが空です")
	}

	return result.Embedding.Values, nil
}

// retriableStatuses はリトライ可能なHTTPステータスコード。
var retriableStatuses = map[int]bool{
	http.StatusTooManyRequests:     true, // 429
	http.StatusInternalServerError: true, // 500
	http.StatusBadGateway:          true, // 502
	http.StatusServiceUnavailable:  true, // 503
	http.StatusGatewayTimeout:      true, // 504
}

// postJSON はJSONペイロードをPOSTし、リトライ戦略を適用してレスポンスボディを返す。
// ペース制御はリトライを含む試行ごとに行い、リトライ間はさらに指数バックオフで待機する。
// 429レスポンスを受けた場合はクールダウンを発動するため、
// 後続の試行はWaitでErrCooldownとなり即座に打ち切られる。
func (c *Client) postJSON(ctx context.Context, endpoint string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("リクエストJSONの生成に失敗しました: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		// 2回目以降は指数バックオフ + ジッターで待機
		if attempt > 0 {
			delay := c.retryDelay(attempt - 1)
			c.logger.Warn("推論API呼び出しをリトライします",
				slog.Int("attempt", attempt),
				slog.Int("max_retries", c.config.MaxRetries),
				slog.Duration("delay", delay),
			)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		// 試行ごとのペース制御（クールダウン中はErrCooldownで即座に失敗）
		if err := c.pacer.Wait(ctx); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("x-goog-api-key", c.config.APIKey)

		callStart := time.Now()
		resp, err := c.httpClient.Do(req)
		c.metrics.RecordInferenceLatency(time.Since(callStart))
		if err != nil {
			// ネットワークエラーはリトライ可能
			lastErr = err
			continue
		}
		c.metrics.RecordInferenceStatus(resp.StatusCode)

		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode == http.StatusOK {
			if readErr != nil {
				return nil, fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", readErr)
			}
			return respBody, nil
		}

		// 429はプロセス全体のクールダウンを発動する
		if resp.StatusCode == http.StatusTooManyRequests {
			c.pacer.ArmCooldown()
			c.metrics.RecordCooldownActivated()
			c.logger.Warn("推論APIがレート制限を返したためクールダウンを発動します",
				slog.Duration("cooldown_remaining", c.pacer.CooldownRemaining()),
			)
		}

		if !retriableStatuses[resp.StatusCode] {
			return nil, fmt.Errorf("推論APIがステータス %d を返しました", resp.StatusCode)
		}

		lastErr = fmt.Errorf("推論APIがステータス %d を返しました", resp.StatusCode)
	}

	return nil, fmt.Errorf("リトライ上限に達しました: %w", lastErr)
}

// retryDelay はリトライ回数に基づく遅延を計算する。
// BackoffBase * BackoffFactor^attempt にジッター（0〜250ms）を加算する。
func (c *Client) retryDelay(attempt int) time.Duration {
	delay := float64(c.config.BackoffBase)
	for i := 0; i < attempt; i++ {
		delay *= c.config.BackoffFactor
	}
	return time.Duration(delay) + c.jitter()
}

// 実装がインターフェースを満たすことをコンパイル時に確認する。
var _ EmbeddingGenerator = (*Client)(nil)
