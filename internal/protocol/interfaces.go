package protocol

import (
	"github.com/udisondev/worldlink/internal/mercury"
)

// LoginInterface is served by the LoginApp.
var (
	LoginProbe = mercury.Fixed(0, "probe", 0)
	LoginLogin = mercury.Variable(2, "login")
)

// BaseAppExtInterface is what a client may send to its BaseApp.
var (
	BaseAppLogin                     = mercury.Variable(0, "baseAppLogin")
	BaseAppAuthenticate              = mercury.Fixed(1, "authenticate", 4)
	BaseAppAvatarUpdateImplicit      = mercury.Fixed(2, "avatarUpdateImplicit", 16)
	BaseAppAvatarUpdateExplicit      = mercury.Fixed(3, "avatarUpdateExplicit", 25)
	BaseAppAvatarUpdateWardImplicit  = mercury.Fixed(4, "avatarUpdateWardImplicit", 19)
	BaseAppAvatarUpdateWardExplicit  = mercury.Fixed(5, "avatarUpdateWardExplicit", 28)
	BaseAppAckPhysicsCorrection      = mercury.Fixed(6, "ackPhysicsCorrection", 1)
	BaseAppAckWardPhysicsCorrection  = mercury.Fixed(7, "ackWardPhysicsCorrection", 5)
	BaseAppRequestEntityUpdate       = mercury.Variable(8, "requestEntityUpdate")
	BaseAppEnableEntities            = mercury.Fixed(9, "enableEntities", 1)
	BaseAppRestoreClientAck          = mercury.Fixed(10, "restoreClientAck", 4)
	BaseAppDisconnectClient          = mercury.Fixed(11, "disconnectClient", 1)
	BaseAppEntityMessage             = mercury.Variable(EntityMessageFirst, "entityMessage")
)

// ClientInterface is what a BaseApp sends to its clients.
var (
	ClientAuthenticate                = mercury.Fixed(0, "authenticate", 4)
	ClientBandwidthNotification       = mercury.Fixed(1, "bandwidthNotification", 4)
	ClientUpdateFrequencyNotification = mercury.Fixed(2, "updateFrequencyNotification", 1)
	ClientSetGameTime                 = mercury.Fixed(3, "setGameTime", 4)
	ClientResetEntities               = mercury.Fixed(4, "resetEntities", 1)
	ClientCreateBasePlayer            = mercury.Variable(5, "createBasePlayer")
	ClientCreateCellPlayer            = mercury.Variable(6, "createCellPlayer")
	ClientSpaceData                   = mercury.Variable(7, "spaceData")
	ClientEnterAoI                    = mercury.Fixed(8, "enterAoI", 5)
	ClientEnterAoIOnVehicle           = mercury.Fixed(9, "enterAoIOnVehicle", 9)
	ClientLeaveAoI                    = mercury.Variable(10, "leaveAoI")
	ClientCreateEntity                = mercury.Variable(11, "createEntity")
	ClientUpdateEntity                = mercury.Variable(12, "updateEntity")
	ClientDetailedPosition            = mercury.Fixed(13, "detailedPosition", 28)
	ClientForcedPosition              = mercury.Fixed(14, "forcedPosition", 36)
	ClientControlEntity               = mercury.Fixed(15, "controlEntity", 5)
	ClientVoiceData                   = mercury.Variable(16, "voiceData")
	ClientRestoreClient               = mercury.Variable(17, "restoreClient")
	ClientRestoreBaseApp              = mercury.Variable(18, "restoreBaseApp")
	ClientResourceHeader              = mercury.Variable(19, "resourceHeader")
	ClientResourceFragment            = mercury.Variable(20, "resourceFragment")
	ClientLoggedOff                   = mercury.Fixed(21, "loggedOff", 1)
	ClientTickSync                    = mercury.Fixed(22, "tickSync", 1)
	ClientRelativePositionReference   = mercury.Fixed(23, "relativePositionReference", 1)
	ClientRelativePosition            = mercury.Fixed(24, "relativePosition", 12)
	ClientSetVehicle                  = mercury.Fixed(25, "setVehicle", 8)
	ClientEntityMessage               = mercury.Variable(EntityMessageFirst, "entityMessage")
)

// ClientMessages lists every fixed id of the client interface except
// avatar updates and entity messages.
var ClientMessages = []mercury.InterfaceElement{
	ClientAuthenticate, ClientBandwidthNotification, ClientUpdateFrequencyNotification,
	ClientSetGameTime, ClientResetEntities, ClientCreateBasePlayer, ClientCreateCellPlayer,
	ClientSpaceData, ClientEnterAoI, ClientEnterAoIOnVehicle, ClientLeaveAoI,
	ClientCreateEntity, ClientUpdateEntity, ClientDetailedPosition, ClientForcedPosition,
	ClientControlEntity, ClientVoiceData, ClientRestoreClient, ClientRestoreBaseApp,
	ClientResourceHeader, ClientResourceFragment, ClientLoggedOff, ClientTickSync,
	ClientRelativePositionReference, ClientRelativePosition, ClientSetVehicle,
}

// EntityMessageElements returns the element for every entity message id.
func EntityMessageElements(base mercury.InterfaceElement) []mercury.InterfaceElement {
	out := make([]mercury.InterfaceElement, 0, MaxEntityMessageIdx+1)
	for id := EntityMessageFirst; id <= EntityMessageLast; id++ {
		out = append(out, base.WithID(mercury.MessageID(id)))
	}
	return out
}

// MovementMessageIDs are the inbound ids counted as movement traffic.
func MovementMessageIDs() []mercury.MessageID {
	ids := []mercury.MessageID{ClientRelativePositionReference.ID}
	for _, v := range AvatarVariants() {
		ids = append(ids, v.Element().ID)
	}
	return ids
}
