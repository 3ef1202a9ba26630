package bot

const welcomeText = `Welcome! 👋

Send me a photo of a test question and I'll solve it for you.
Send me a screenshot of a dating profile or conversation and I'll suggest what to say next.

You have %d free messages to start with. Use /help to see everything I can do.`

const helpText = `Here's what I can do:

📸 Send a photo of a test question and pick "Solve Question".
💬 Send a screenshot of a profile or chat and pick pickup lines, conversation starters, replies or date ideas.
✍️ Or just type a question as text.

Commands:
/start - Set up your account
/usage - Check your remaining messages
/subscription - Manage your subscription
/cancel - Cancel your subscription
/terms - Terms of service
/privacy - Privacy policy`

const termsText = `Terms of Service

This bot provides AI-generated answers and suggestions for entertainment and study assistance. Generated content may be wrong; verify anything important yourself. Abuse, automated scraping and resale of the service are not allowed. Subscriptions renew automatically until canceled.`

const privacyText = `Privacy Policy

We store the messages and images you send so the bot can reply to them and support refinements. Payment details are handled by our payment provider and never stored by us. Use /subscription to manage your plan, and contact support to delete your account data.`
