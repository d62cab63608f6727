package finalizer

import (
	"fmt"

	"github.com/retirement-advisor-poc/server/internal/agent/model"
)

const Disclaimer = "This information is general in nature and does not take into account your personal " +
	"objectives, financial situation or needs. Figures are estimates based on current rules and your " +
	"recorded details. Consider seeking advice from a licensed financial adviser before making a decision."

const ToolFailureMessage = "We're unable to process your request right now because one of our calculation " +
	"services did not respond correctly. Rather than give you an unverified answer, your question has been " +
	"passed to a member services specialist who will review it and get back to you."

const NoAnswerMessage = "We weren't able to prepare an answer to your question right now. It has been " +
	"passed to a member services specialist who will review it and get back to you."

var declineTemplates = map[string]string{
	model.LabelWeather:       "I can't help with weather questions. I'm here to answer questions about your %s and retirement, such as tax on withdrawals, benefits or projected balances.",
	model.LabelFood:          "I can't help with food or recipes. I'm here to answer questions about your %s and retirement, such as tax on withdrawals, benefits or projected balances.",
	model.LabelEntertainment: "I can't help with entertainment recommendations. I'm here to answer questions about your %s and retirement, such as tax on withdrawals, benefits or projected balances.",
	model.LabelSports:        "I can't help with sports questions. I'm here to answer questions about your %s and retirement, such as tax on withdrawals, benefits or projected balances.",
}

const defaultDecline = "That question is outside what I can help with. I'm here to answer questions about your %s and retirement, such as tax on withdrawals, benefits or projected balances."

// DeclineMessage is the canned reply for an off-topic query.
func DeclineMessage(label string, p model.CountryProfile) string {
	tpl, ok := declineTemplates[label]
	if !ok {
		tpl = defaultDecline
	}
	term := p.AccountTerm
	if term == "" {
		term = "retirement savings"
	}
	return fmt.Sprintf(tpl, term)
}
