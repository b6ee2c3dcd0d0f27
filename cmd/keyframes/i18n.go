// Package main provides localization for the keyframes CLI.
package main

import (
	"github.com/ideamans/go-l10n"
)

func init() {
	// Register Japanese translations for CLI messages.
	l10n.Register("ja", l10n.LexiconMap{
		// Flag categories
		"Input and Output":  "入出力",
		"Geometry":          "ジオメトリ",
		"Stream Sync":       "ストリーム同期",
		"Video and Quality": "動画と品質",
		"Error Handling":    "エラー処理",
		"Debug":             "デバッグ",
		"Logging":           "ログ",

		// Commands
		"Crop and overlay video along per-frame annotations": "フレームごとのアノテーションに沿って動画を切り抜き・合成",
		"Process a video along its annotations":              "アノテーションに沿って動画を処理",
		"Convert a detection list into frame annotations":    "検出リストをフレームアノテーションに変換",
		"Show the video stream of an MP4 file":               "MP4ファイルの映像ストリームを表示",

		// Input and output flags
		"YAML configuration file":                               "YAML設定ファイル",
		"Main input video":                                      "メイン入力動画",
		"Overlay video or image glob":                           "オーバーレイ動画または画像のglob",
		"Annotation file (JSON or YAML)":                        "アノテーションファイル（JSONまたはYAML）",
		"Output video file":                                     "出力動画ファイル",
		"Output JSON file":                                      "出力JSONファイル",
		"Write a Markdown run summary to this file":             "実行サマリーをMarkdownでこのファイルに書き出す",
		"Path to ffmpeg (falls back to FFMPEG_PATH, then PATH)": "ffmpegのパス（未指定時はFFMPEG_PATH、次にPATH）",

		// Geometry flags
		"Processing mode (keyframes, crop)":            "処理モード（keyframes, crop）",
		"Annotation schema (auto, frames, detections)": "アノテーション形式（auto, frames, detections）",
		"Records with missing keys (fail, skip)":       "キーが欠けたレコードの扱い（fail, skip）",
		"Detection name followed in detection lists":   "検出リストで追跡する検出名",
		"Output width expression":                      "出力幅の式",
		"Output height expression":                     "出力高さの式",
		"Overlay or crop x expression":                 "オーバーレイまたは切り抜きのx式",
		"Overlay or crop y expression":                 "オーバーレイまたは切り抜きのy式",
		"When to evaluate x and y (init, frame)":       "xとyを評価するタイミング（init, frame）",
		"Do not align to chroma subsampling":           "色差サブサンプリングに揃えない",
		"Keep the display aspect ratio when cropping":  "切り抜き時に表示アスペクト比を保つ",

		// Sync flags
		"Overlay end of stream action (repeat, endall, pass)": "オーバーレイ終了時の動作（repeat, endall, pass）",
		"Stop when the shortest input ends":                   "最短の入力が終わったら停止",
		"Repeat the last overlay frame after it ends":         "終了後もオーバーレイの最終フレームを繰り返す",
		"Overlay alpha mode (straight, premultiplied)":        "オーバーレイのアルファ形式（straight, premultiplied）",

		// Video flags
		"Main input width (probed when omitted)":               "メイン入力の幅（省略時は自動検出）",
		"Main input height (probed when omitted)":              "メイン入力の高さ（省略時は自動検出）",
		"Frame rate (e.g. 25, 30000/1001)":                     "フレームレート（例: 25, 30000/1001）",
		"Input sample aspect ratio (e.g. 1:1)":                 "入力のサンプルアスペクト比（例: 1:1）",
		"Scaling kernel (nearest, bilinear, bicubic, lanczos)": "拡大縮小カーネル（nearest, bilinear, bicubic, lanczos）",
		"Blend workers (0 = number of CPUs)":                   "合成ワーカー数（0 = CPU数）",
		"Output codec passed to ffmpeg":                        "ffmpegに渡す出力コーデック",
		"Output CRF (lower is better)":                         "出力CRF（低いほど高品質）",

		// Error handling flags
		"Per-frame error policy (stop, skip)":          "フレーム単位のエラー方針（stop, skip）",
		"Stop after this many output frames (0 = all)": "この出力フレーム数で停止（0 = すべて）",

		// Debug and logging flags
		"Enable debug output":                          "デバッグ出力を有効化",
		"Directory for debug output":                   "デバッグ出力先ディレクトリ",
		"Save every output frame as PNG in debug mode": "デバッグ時にすべての出力フレームをPNGで保存",
		"Log level (debug, info, warn, error)":         "ログレベル（debug, info, warn, error）",
		"Suppress all log output":                      "すべてのログ出力を抑制",

		// Errors
		"a main input is required (--main)":     "メイン入力が必要です（--main）",
		"an output file is required (--output)": "出力ファイルが必要です（--output）",
		"convert takes exactly one input file":  "convertには入力ファイルを1つだけ指定してください",
		"probe takes exactly one input file":    "probeには入力ファイルを1つだけ指定してください",

		// Messages
		"Overlay input %s: %d images": "オーバーレイ入力 %s: 画像%d枚",
		"Failed to write summary: %s": "サマリーの書き出しに失敗: %s",

		// Probe output
		"Codec: %s":       "コーデック: %s",
		"Size: %dx%d":     "サイズ: %dx%d",
		"Frames: %d":      "フレーム数: %d",
		"Duration: %.3fs": "長さ: %.3f秒",
	})
}
