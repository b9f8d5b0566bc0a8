package database

import "github.com/npezzotti/spark-chat/internal/types"

func ToMessage(m Message) types.Message {
	return types.Message{
		Id:        m.Id,
		SenderId:  m.SenderId,
		Kind:      m.Kind,
		Body:      m.Body,
		MediaRef:  m.MediaRef,
		Seen:      m.Seen,
		CreatedAt: m.CreatedAt,
	}
}

// ToConversation builds the wire form of a chat. When members is nil the
// member ids are returned without profile data.
func ToConversation(c Chat, members []MemberSummary) types.Conversation {
	conv := types.Conversation{
		Id:        c.Id,
		Members:   make([]types.Member, 0, len(c.Members)),
		Messages:  make([]types.Message, 0, len(c.Messages)),
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}

	if members == nil {
		for _, id := range c.Members {
			conv.Members = append(conv.Members, types.Member{Id: id, Avatars: []string{}})
		}
	} else {
		for _, m := range members {
			conv.Members = append(conv.Members, types.Member{Id: m.Id, Name: m.Name, Avatars: m.Avatars})
		}
	}

	for _, m := range c.Messages {
		conv.Messages = append(conv.Messages, ToMessage(m))
	}

	return conv
}
