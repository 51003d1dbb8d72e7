// Package mqhandler 生命周期事件的消费者
package mqhandler

import (
	mqcontracts "freelancehub/contracts/mq"
	"freelancehub/pkg/mq"
)

// RegisterNotifications 为所有生命周期事件注册通知处理
func RegisterNotifications(r *mq.Router, h *LifecycleEventHandler) {
	for _, key := range mqcontracts.LifecycleEventTypes {
		r.Register(key, h.Handle)
	}
}

// RegisterProjectCompletion 注册项目完成处理。与通知共用一个 Router 时
// project.milestones_completed 依次交给两个 handler。
func RegisterProjectCompletion(r *mq.Router, h *ProjectCompletionHandler, also mq.MessageHandler) {
	key := mqcontracts.EventProjectMilestonesCompleted
	if also == nil {
		r.Register(key, h.Handle)
		return
	}
	r.Register(key, mq.Chain(also, h.Handle))
}
