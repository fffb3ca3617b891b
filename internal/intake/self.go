package intake

// SelfFilter recognizes the bot's own outbound messages echoed back by the gateway.
type SelfFilter struct {
	BotName       string
	BotProviderID string
}

// IsSelf matches on either the display name or the provider id.
func (f SelfFilter) IsSelf(senderName, senderProviderID string) bool {
	if f.BotName != "" && senderName == f.BotName {
		return true
	}
	return f.BotProviderID != "" && senderProviderID == f.BotProviderID
}
