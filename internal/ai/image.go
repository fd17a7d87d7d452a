package ai

import (
	"path"
	"strings"
)

// cloudinaryUploadSegment はCloudinary配信URLのアップロードパス区切り。
const cloudinaryUploadSegment = "/upload/"

// cloudinaryEmbedTransform は埋め込み生成用の縮小変換。
// 最大400x400に収め、品質を自動調整することで
// ダウンロードサイズと推論コストを抑える。
const cloudinaryEmbedTransform = "w_400,h_400,c_limit,q_auto/"

// TransformForEmbedding は画像URLを埋め込み生成用の縮小版URLに変換する。
// Cloudinaryの配信URL（/upload/を含む）の場合のみ変換を挿入し、
// それ以外のURLはそのまま返す。
// すでに変換済みのURLには二重適用しない。
func TransformForEmbedding(imageURL string) string {
	idx := strings.Index(imageURL, cloudinaryUploadSegment)
	if idx < 0 {
		return imageURL
	}

	rest := imageURL[idx+len(cloudinaryUploadSegment):]
	if strings.HasPrefix(rest, cloudinaryEmbedTransform) {
		return imageURL
	}

	return imageURL[:idx+len(cloudinaryUploadSegment)] + cloudinaryEmbedTransform + rest
}

// extMIMETypes は拡張子からMIMEタイプへのマッピング。
// Content-Typeヘッダが信頼できない場合のフォールバックに使用する。
var extMIMETypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
}

// GuessMIMEType は画像URLの拡張子からMIMEタイプを推定する。
// 未知の拡張子の場合はimage/jpegを返す。
func GuessMIMEType(imageURL string) string {
	// クエリパラメータを除去してから拡張子を取得
	trimmed := imageURL
	if idx := strings.IndexAny(trimmed, "?#"); idx >= 0 {
		trimmed = trimmed[:idx]
	}

	ext := strings.ToLower(path.Ext(trimmed))
	if mime, ok := extMIMETypes[ext]; ok {
		return mime
	}
	return "image/jpeg"
}
