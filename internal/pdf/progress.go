package pdf

// 進捗ステージ名。ジョブ記録の progress.stage にそのまま入ります。
const (
	StageExtract   = "extract"
	StageScan      = "scan"
	StageMerge     = "merge"
	StageWrite     = "write"
	StageCompleted = "completed"
)

// ProgressReporter は進捗更新用コールバックです。percent は 0〜100 です。
type ProgressReporter func(stage string, percent int)

// report は cb が nil でなければ percent を範囲内に丸めて通知します。
func (cb ProgressReporter) report(stage string, percent int) {
	if cb == nil {
		return
	}
	cb(stage, min(max(percent, 0), 100))
}
