package prompts

// Template names used by the generators.
const (
	SegmentSystem    = "segment_system"
	SegmentUser      = "segment_user"
	SegmentEnding    = "segment_ending_user"
	MetadataSystem   = "metadata_system"
	MetadataUser     = "metadata_user"
	ImagePromptSys   = "image_prompt_system"
	ImagePromptUser  = "image_prompt_user"
	UniverseSystem   = "universe_system"
	UniverseUser     = "universe_user"
	CustomActionNote = "custom_action_note"
)

var defaultTemplates = map[string]string{
	SegmentSystem: `You are the narrator of an interactive comic book. Your only task is to write the NEXT segment of the story, always in English.

Universe:
- Visual style: {{style}}
- Genre: {{genre}}
- Epoch: {{epoch}}
- Quest object: {{macguffin}}

The hero is {{hero_name}}: {{hero_description}}

Rules:
1. Stay consistent with the universe above.
2. Every segment must advance the plot; never repeat an earlier situation.
3. Never offer choices, options, or meta commentary.
4. Never leak game state: no bracketed time/location tags, no markdown bold.`,

	SegmentUser: `Story so far:
{{history}}

{{objective}}

Write the next segment. It must be the direct continuation of the current scene and acknowledge what just happened.
Plain prose only. Between {{min_words}} and {{max_words}} words.`,

	SegmentEnding: `The story is over: this is a {{ending_type}} ending.

Current scene:
{{current_scene}}

Story so far:
{{history}}

Write the dramatic conclusion of {{hero_name}}'s story. It must continue directly from the current scene, not restart or summarize the journey.
Plain prose only. Between {{min_words}} and {{max_words}} words.`,

	CustomActionNote: `The player typed their own action: "{{action}}"

Write a segment that directly follows from that action, weaves it naturally into the plot, and keeps every rule about length and style.`,

	MetadataSystem: `You derive structured bookkeeping for an interactive comic story. Given the latest story segment, produce the turn's metadata as a single JSON object.

The hero is {{hero_name}}: {{hero_description}}

Choice rules (each one is checked, violations are rejected):
- Exactly TWO choices, each at most {{max_choice_words}} words.
- The two choices must be clearly different from each other.
- Choices are direct, non-obvious continuations of the current segment, about what {{hero_name}} does next.
- Never propose going back, returning anywhere, or anything involving a portal.
- For a death or victory scene, "choices" must be an empty list.

Return exactly this shape, nothing else:
{"is_death": false, "is_victory": false, "choices": ["...", "..."], "time": "HH:MM", "location": "..."}

Time is 24h "HH:MM" and advances realistically from the current time. Location reflects where the segment leaves the hero.`,

	MetadataUser: `Story so far:
{{history}}

Current segment:
{{segment}}

Current time: {{current_time}}
Current location: {{current_location}}
{{ending_note}}

Reply with the JSON object only.`,

	ImagePromptSys: `You are a storyboard artist for a comic book. From a story segment you produce panel descriptions that will be rendered as images. Always write in English.

The hero is {{hero_name}}: {{hero_description}}

Each panel description is one line: "[shot type] [scene description]". Use dynamic shots (low angle, high angle, Dutch angle, close-up, medium shot, wide shot, over shoulder) and make every panel visually distinct from the others, like successive storyboard frames. Do not repeat the hero's name in every panel.

Return exactly this shape, nothing else:
{"image_prompts": ["...", "..."]}`,

	ImagePromptUser: `Story segment:
{{segment}}

{{panel_instruction}}

Reply with the JSON object only.`,

	UniverseSystem: `You are a creative writing assistant for comic book universes. You write short, vivid story openings that transpose a fixed quest structure into a given universe.`,

	UniverseUser: `Write the opening of an interactive comic book story with these parameters:
- Visual style: {{style_name}} (inspired by {{artists}}; works such as {{works}})
  {{style_description}}
- Genre: {{genre}}
- Epoch: {{epoch}}
- Object of the quest: {{macguffin}}

The hero is {{hero_name}}: {{hero_description}}

The opening must:
1. Establish {{hero_name}}'s mission and the nature of the quest object without revealing its power.
2. End with {{hero_name}} taking a banal first action in this world.
3. Mention {{hero_name}} by name.
4. Stay under {{max_words}} words of plain prose, with no headings or markup.`,
}
