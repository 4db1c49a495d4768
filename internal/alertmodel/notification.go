package alertmodel

// NotificationKind tags the Notification union.
type NotificationKind int

const (
	NotificationKindAlert NotificationKind = iota
	NotificationKindAcknowledged
)

// Notification is the payload an adapter is asked to deliver.
type Notification struct {
	Kind NotificationKind

	// Set when Kind == NotificationKindAlert.
	Context AlertContext

	// Set when Kind == NotificationKindAcknowledged.
	Id       AlertId
	AckedBy  User
	AckedOn  uint
}

// AlertNotification builds a Notification carrying a freshly-dispatched
// alert context.
func AlertNotification(ctx AlertContext) Notification {
	return Notification{Kind: NotificationKindAlert, Context: ctx}
}

// AcknowledgedNotification builds a retro-broadcast Notification.
func AcknowledgedNotification(id AlertId, ackedBy User, ackedOn uint) Notification {
	return Notification{Kind: NotificationKindAcknowledged, Id: id, AckedBy: ackedBy, AckedOn: ackedOn}
}

// CommandKind tags the Command union.
type CommandKind int

const (
	CommandKindAck CommandKind = iota
	CommandKindPending
	CommandKindHelp
)

// Command is a parsed user request.
type Command struct {
	Kind CommandKind
	Id   AlertId // set when Kind == CommandKindAck
}

func AckCommand(id AlertId) Command { return Command{Kind: CommandKindAck, Id: id} }
func PendingCommand() Command       { return Command{Kind: CommandKindPending} }
func HelpCommand() Command          { return Command{Kind: CommandKindHelp} }

// UserAction is an inbound command as observed by a concrete adapter.
type UserAction struct {
	User          User
	ChannelId     uint
	IsLastChannel bool
	Command       Command
}

// ConfirmationKind tags the UserConfirmation union.
type ConfirmationKind int

const (
	ConfirmationPendingAlerts ConfirmationKind = iota
	ConfirmationNoPermission
	ConfirmationAlertOutOfScope
	ConfirmationAlertAcknowledged
	ConfirmationAlertNotFound
	ConfirmationHelp
	ConfirmationInternalError
)

// UserConfirmation is the response routed back to the originating channel.
type UserConfirmation struct {
	Kind    ConfirmationKind
	Pending []AlertContext // set when Kind == ConfirmationPendingAlerts
	Id      AlertId        // set when Kind == ConfirmationAlertAcknowledged
}
