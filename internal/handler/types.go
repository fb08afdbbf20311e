package handler

// AssignRoleRequest 分配角色请求
type AssignRoleRequest struct {
	RoleID int64 `json:"roleId"`
}

// UpdateStatusRequest 启停状态请求
type UpdateStatusRequest struct {
	Status int8 `json:"status"`
}
