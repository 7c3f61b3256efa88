package realtime

import "github.com/eldtechnologies/pulse/internal/models"

// PermissionEvaluator is the external role/permission boundary. It is
// consulted as a pure function; the realtime core never caches its answers.
type PermissionEvaluator interface {
	// CanJoinRoom reports whether the identity may join the described room.
	CanJoinRoom(identity *models.Identity, spec models.RoomSpec) bool
	// AutoJoinRooms returns rooms the identity is implicitly a member of,
	// joined on connect without an explicit client request.
	AutoJoinRooms(identity *models.Identity) []models.RoomSpec
}

// WorkspaceRoomID is the workspace-wide room administrative roles are
// auto-joined to.
const WorkspaceRoomID = "workspace"

// RolePolicy is the default evaluator: system rooms are restricted to
// admin and system roles, everything else is open, and administrative
// roles are auto-joined to the workspace room.
type RolePolicy struct{}

func (RolePolicy) CanJoinRoom(identity *models.Identity, spec models.RoomSpec) bool {
	if identity == nil {
		return false
	}
	if spec.Type == models.RoomSystem {
		return identity.Role == models.RoleAdmin || identity.Role == models.RoleSystem
	}
	return true
}

func (RolePolicy) AutoJoinRooms(identity *models.Identity) []models.RoomSpec {
	if identity == nil {
		return nil
	}
	if identity.Role == models.RoleAdmin || identity.Role == models.RoleSystem {
		return []models.RoomSpec{{ID: WorkspaceRoomID, Type: models.RoomWorkspace}}
	}
	return nil
}
