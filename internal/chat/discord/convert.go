package discord

import (
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/mattjoyce/dgw/internal/embed"
)

// maxEmbedsPerMessage is Discord's cap on embeds in one message.
const maxEmbedsPerMessage = 10

// blank stands in for empty field names and values, which Discord rejects.
const blank = "\u200b"

func toEmbed(rec embed.Record) *discordgo.MessageEmbed {
	e := &discordgo.MessageEmbed{
		Type:        discordgo.EmbedTypeRich,
		Title:       rec.Title,
		URL:         rec.Permalink,
		Description: rec.Description,
		Color:       rec.Color,
	}
	if !rec.Timestamp.IsZero() {
		e.Timestamp = rec.Timestamp.UTC().Format(time.RFC3339)
	}
	if rec.Username != "" || rec.AvatarURL != "" {
		e.Author = &discordgo.MessageEmbedAuthor{Name: rec.Username, IconURL: rec.AvatarURL}
	}
	if rec.Footer.Text != "" || rec.Footer.IconURL != "" {
		e.Footer = &discordgo.MessageEmbedFooter{Text: rec.Footer.Text, IconURL: rec.Footer.IconURL}
	}
	for _, f := range rec.Fields {
		e.Fields = append(e.Fields, &discordgo.MessageEmbedField{
			Name:   orBlank(f.Name),
			Value:  orBlank(f.Value),
			Inline: f.Inline,
		})
	}
	return e
}

func orBlank(s string) string {
	if s == "" {
		return blank
	}
	return s
}

// batches splits records into message-sized groups of embeds.
func batches(records []embed.Record) [][]*discordgo.MessageEmbed {
	var out [][]*discordgo.MessageEmbed
	for start := 0; start < len(records); start += maxEmbedsPerMessage {
		end := min(start+maxEmbedsPerMessage, len(records))
		group := make([]*discordgo.MessageEmbed, 0, end-start)
		for _, rec := range records[start:end] {
			group = append(group, toEmbed(rec))
		}
		out = append(out, group)
	}
	return out
}
