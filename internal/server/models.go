package server

import (
	"appmanager/internal/errors"
	"appmanager/internal/reconciler"
	"appmanager/internal/types"
)

// ErrorResponse is the error envelope every failing endpoint returns
type ErrorResponse = errors.HTTPErrorResponse

// ActionResponse is returned by direct service actions
type ActionResponse struct {
	Status string                   `json:"status" example:"success"`
	Run    *types.ReconciliationRun `json:"run,omitempty"`
}

// Device API models (v1)

// DeviceResponse summarises the device
type DeviceResponse struct {
	DeviceID       string                `json:"deviceId" example:"3f0c6c9e-2d1a-4b7e-9c55-0d6f3c1b2a90"`
	DeviceName     string                `json:"deviceName" example:"edge-01"`
	AppCount       int                   `json:"appCount" example:"2"`
	ServiceCount   int                   `json:"serviceCount" example:"3"`
	Status         types.ReconcilerState `json:"status" example:"idle"`
	LastRunID      string                `json:"lastRunId,omitempty"`
	LastError      string                `json:"lastError,omitempty"`
	Pending        bool                  `json:"pending"`
	TargetVersion  int64                 `json:"targetVersion" example:"4"`
	AppliedVersion int64                 `json:"appliedVersion" example:"4"`
	Uptime         string                `json:"uptime" example:"2h30m15s"`
}

// V1AppResponse is the single-service view of an application
type V1AppResponse struct {
	AppID       int                   `json:"appId" example:"1001"`
	AppName     string                `json:"appName" example:"web"`
	ServiceID   int                   `json:"serviceId" example:"1"`
	ServiceName string                `json:"serviceName" example:"nginx"`
	ImageName   string                `json:"imageName" example:"nginx:alpine"`
	ContainerID string                `json:"containerId,omitempty"`
	Status      types.ContainerStatus `json:"status" example:"running"`
	Env         map[string]string     `json:"env,omitempty"`
}

// V1AppActionRequest addresses a whole application
type V1AppActionRequest struct {
	AppID int  `json:"appId" example:"1001"`
	Force bool `json:"force" example:"false"`
}

// ForceRequest carries only the force flag
type ForceRequest struct {
	Force bool `json:"force" example:"false"`
}

// Device API models (v2)

// ServiceActionRequest addresses one service of an application
type ServiceActionRequest struct {
	ServiceName string `json:"serviceName" example:"nginx"`
	Force       bool   `json:"force" example:"false"`
}

// TargetResponse acknowledges a target write
type TargetResponse struct {
	Version int64 `json:"version" example:"5"`
	Applied bool  `json:"applyQueued"`
}

// ApplyResponse acknowledges an apply request
type ApplyResponse struct {
	Accepted bool                     `json:"accepted" example:"true"`
	Run      *types.ReconciliationRun `json:"run,omitempty"`
}

// StatusResponse is the reconciler status
type StatusResponse = reconciler.Status

// LogsResponse carries the recent output of an application's services
type LogsResponse struct {
	AppID    int                     `json:"appId" example:"1001"`
	Services []reconciler.ServiceLog `json:"services"`
}
