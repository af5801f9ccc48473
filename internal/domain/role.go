package domain

// Caller roles carried in API tokens.
const (
	RoleAdmin    = "admin"
	RoleGateway  = "gateway"
	RolePipeline = "pipeline"
)
