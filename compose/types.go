package compose

import "github.com/favbox/eino-chains/components"

// 编排层自身的组件类别，出现在回调的 RunInfo.Component 中。
const (
	ComponentOfLambda      components.Component = "Lambda"
	ComponentOfChain       components.Component = "Chain"
	ComponentOfParallel    components.Component = "Parallel"
	ComponentOfPassthrough components.Component = "Passthrough"
	ComponentOfAdapter     components.Component = "Adapter"
)
