package nodes

// Graph node keys.
const (
	NodeClassifier         = "Classifier"
	NodeDecline            = "Decline"
	NodeMemberLoader       = "MemberLoader"
	NodeToolSelector       = "ToolSelector"
	NodeToolInvoker        = "ToolInvoker"
	NodeSynthesisAssembler = "SynthesisAssembler"
	NodeSynthesisChatModel = "SynthesisChatModel"
	NodeValidator          = "Validator"
	NodeRetry              = "Retry"
	NodeFinalizer          = "Finalizer"
)
