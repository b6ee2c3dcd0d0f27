package logger

import "github.com/ideamans/go-l10n"

func init() {
	l10n.Register("ja", l10n.LexiconMap{
		// Run
		"Starting pipeline": "パイプラインを開始します",
		"Pipeline completed: %d frames written, %d skipped": "パイプライン完了: %d フレーム出力, %d フレームスキップ",
		"Output saved to %s":                                "出力を %s に保存しました",
		"Interrupted, shutting down...":                     "中断されました。シャットダウン中...",
		"Main input %s: %dx%d, %d frames":                   "メイン入力 %s: %dx%d, %d フレーム",
		"Overlay input %s: %dx%d, %d frames":                "オーバーレイ入力 %s: %dx%d, %d フレーム",
		"Converted %d records to %s":                        "%d 件のレコードを %s に変換しました",

		// Annotations
		"Loaded %d annotation records from %s":                     "%[2]s から %[1]d 件のアノテーションを読み込みました",
		"%d annotation records are unreliable":                     "%d 件のアノテーションは信頼できません",
		"Annotation frame_index %d at position %d, using position": "アノテーションの frame_index %d が位置 %d と一致しません。位置を使用します",
		"Annotation record degraded to zero geometry: %s":          "アノテーションをゼロ領域として扱います: %s",
		"Frame %d has no annotation, reusing record %d of %d":      "フレーム %d のアノテーションがありません。%[3]d 件中 %[2]d 番目を再利用します",
		"%d frames reused the last of %d annotation records":       "%d フレームが %d 件中最後のアノテーションを再利用しました",
		"Scaled overlay for frame %d corrected to even %dx%d":      "フレーム %d のオーバーレイを偶数サイズ %dx%d に補正しました",
		"Rejected %s=%q, keeping previous settings: %v":            "%s=%q は無効です。以前の設定を維持します: %v",
		"Reconfigured %s to %q":                                    "%s を %q に変更しました",
		"Command %s=%s failed: %s":                                 "コマンド %s=%s が失敗しました: %s",

		// Errors
		"Failed to load annotations: %s":  "アノテーションの読み込みに失敗しました: %s",
		"Invalid stage configuration: %s": "ステージ設定が無効です: %s",
		"Frame %d failed: %s":             "フレーム %d の処理に失敗しました: %s",
		"Skipping frame %d: %s":           "フレーム %d をスキップします: %s",
		"Failed to open input: %s":        "入力を開けませんでした: %s",
		"Failed to write output: %s":      "出力の書き込みに失敗しました: %s",
	})
}
