package syncer

import "fmt"

// Counts 同步任务的终态统计
// 无论中途失败多少条，任务结束时都完整上报
type Counts struct {
	Generated int
	Skipped   int
	Failed    int
	Removed   int
}

// Add 累加另一份统计
func (c *Counts) Add(o Counts) {
	c.Generated += o.Generated
	c.Skipped += o.Skipped
	c.Failed += o.Failed
	c.Removed += o.Removed
}

func (c Counts) String() string {
	return fmt.Sprintf("生成 %d，跳过 %d，失败 %d，清理 %d",
		c.Generated, c.Skipped, c.Failed, c.Removed)
}
